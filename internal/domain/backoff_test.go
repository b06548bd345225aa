package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTaskError(t *testing.T) {
	assert.Equal(t, ErrorClassCommunication, ClassifyTaskError(errors.New("context deadline exceeded")))
	assert.Equal(t, ErrorClassCommunication, ClassifyTaskError(&TransientError{Err: errors.New("connection reset by peer")}))
	assert.Equal(t, ErrorClassLogic, ClassifyTaskError(errors.New("schema invalid: missing field")))
	assert.Equal(t, ErrorClassLogic, ClassifyTaskError(nil))
}

func TestQualificationBackoff(t *testing.T) {
	initial := 5 * time.Second
	max := 300 * time.Second
	assert.Equal(t, initial, QualificationBackoff(1, initial, max))
	assert.Equal(t, 2*initial, QualificationBackoff(2, initial, max))
	assert.Equal(t, 4*initial, QualificationBackoff(3, initial, max))
	assert.Equal(t, max, QualificationBackoff(20, initial, max))
}

func TestExecutionCommBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, ExecutionCommBackoff(1))
	assert.Equal(t, 60*time.Second, ExecutionCommBackoff(2))
	assert.Equal(t, 5*time.Minute, ExecutionCommBackoff(100))
}
