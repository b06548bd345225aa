package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUnifiesNewlines(t *testing.T) {
	in := "line one\r\nline two\r\n"
	out := Normalize(in, Options{})
	assert.Equal(t, "line one\nline two", out)
}

func TestNormalizeCollapsesExcessBlankLines(t *testing.T) {
	in := "para one\n\n\n\n\npara two"
	out := Normalize(in, Options{})
	assert.Equal(t, "para one\n\n\npara two", out, "5 newlines (4 blank lines) collapse to 3 newlines (2 blank lines)")
}

func TestNormalizeTrimsWhitespaceOnlyLines(t *testing.T) {
	in := "a\n   \nb"
	out := Normalize(in, Options{})
	assert.Equal(t, "a\n\nb", out)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	in := "a\r\n\r\n\r\n\r\nb\t\\nc"
	once := Normalize(in, Options{})
	twice := Normalize(once, Options{})
	assert.Equal(t, once, twice)
}

func TestNormalizePreservesCodeBlankLines(t *testing.T) {
	in := "func a() {\n    \n    return\n}"
	out := Normalize(in, Options{PreserveCode: true})
	assert.Contains(t, out, "func a() {\n    \n    return\n}")
}
