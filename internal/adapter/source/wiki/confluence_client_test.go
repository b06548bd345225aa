package wiki

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
)

func TestNewConstructsClient(t *testing.T) {
	c, err := New("https://example.atlassian.net/wiki", http.DefaultClient, domain.NewID())
	require.NoError(t, err)
	require.NotNil(t, c)
}
