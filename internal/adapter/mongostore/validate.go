package mongostore

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/jervisai/jervis/internal/domain"
)

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// validateStruct runs the struct-tag validation §3/SPEC_FULL's C1
// additions require on Connection/Client/Project records before they are
// persisted. A tag failure is a PermanentError — retrying the same
// payload would never succeed.
func validateStruct(v any) error {
	if err := getValidator().Struct(v); err != nil {
		return fmt.Errorf("op=mongostore.validate: %w", &domain.PermanentError{Err: err})
	}
	return nil
}
