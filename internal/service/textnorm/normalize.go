// Package textnorm implements the C5 text normalization step (§4.5): a
// pure function applied consistently to every source before chunking,
// built on pkg/textx's control-character sanitizer.
package textnorm

import (
	"regexp"
	"strings"

	"github.com/jervisai/jervis/pkg/textx"
)

var (
	crlfPattern       = regexp.MustCompile(`\r\n?`)
	blankRunsPattern  = regexp.MustCompile(`\n{3,}`)
	escapedNewline    = regexp.MustCompile(`\\n`)
	escapedTab        = regexp.MustCompile(`\\t`)
	trailingSpaceLine = regexp.MustCompile(`[ \t]+\n`)
)

// Options controls behavior that differs by content type (§4.5:
// "preserve code when requested").
type Options struct {
	// PreserveCode skips whitespace-only-line trimming, since code
	// blocks use blank lines and indentation meaningfully.
	PreserveCode bool
}

// Normalize applies the staging store's text normalization pipeline:
// decode common escape sequences, unify newlines to \n, collapse three
// or more consecutive blank lines to two, and trim whitespace-only
// lines. The same function runs over every source's content (§4.5).
func Normalize(s string, opts Options) string {
	s = textx.SanitizeText(s)
	s = escapedNewline.ReplaceAllString(s, "\n")
	s = escapedTab.ReplaceAllString(s, "\t")
	s = crlfPattern.ReplaceAllString(s, "\n")

	if !opts.PreserveCode {
		s = trailingSpaceLine.ReplaceAllString(s, "\n")
		s = collapseBlankOnlyLines(s)
	}
	s = blankRunsPattern.ReplaceAllString(s, "\n\n\n")

	return strings.TrimSpace(s)
}

// collapseBlankOnlyLines drops lines containing only whitespace down to
// an empty line, so blankRunsPattern can then collapse the run.
func collapseBlankOnlyLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}
