package indexer

import (
	"fmt"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// safetyMargin caps chunk size at 90% of the model's context window, per
// spec.md §4.8 step 3 ("chunk by token estimate with a safety margin
// (≤90% of model context)").
const safetyMargin = 0.9

// Chunker splits text into token-bounded pieces, sized relative to an
// embedding model's context window. Grounded on the teacher's
// tokencount.Counter (model-name normalization, encoding cache, cl100k_base
// fallback), generalized from "count tokens" to "count and split".
type Chunker struct {
	maxContextTokens int
	mu               sync.Mutex
	enc              *tiktoken.Tiktoken
}

// NewChunker constructs a Chunker. maxContextTokens is the embedding
// model's full context window; the effective chunk budget is 90% of it.
func NewChunker(maxContextTokens int) *Chunker {
	return &Chunker{maxContextTokens: maxContextTokens}
}

func (c *Chunker) encoding() (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc != nil {
		return c.enc, nil
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("op=indexer.Chunker.encoding: %w", err)
	}
	c.enc = enc
	return enc, nil
}

// CountTokens returns text's token estimate under the chunker's encoding.
func (c *Chunker) CountTokens(text string) (int, error) {
	enc, err := c.encoding()
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Split breaks text into chunks of at most budget() tokens, splitting on
// paragraph boundaries first and falling back to raw token slicing for a
// single paragraph that alone exceeds the budget.
func (c *Chunker) Split(text string) ([]string, error) {
	enc, err := c.encoding()
	if err != nil {
		return nil, err
	}
	budget := c.budget()
	if budget <= 0 {
		return []string{text}, nil
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return []string{text}, nil
	}

	var chunks []string
	paragraphs := strings.Split(text, "\n\n")
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
	}

	for _, p := range paragraphs {
		pTokens := len(enc.Encode(p, nil, nil))
		if pTokens > budget {
			flush()
			chunks = append(chunks, splitByTokens(enc, p, budget)...)
			continue
		}
		if currentTokens+pTokens > budget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		currentTokens += pTokens
	}
	flush()
	return chunks, nil
}

func (c *Chunker) budget() int {
	return int(float64(c.maxContextTokens) * safetyMargin)
}

func splitByTokens(enc *tiktoken.Tiktoken, text string, budget int) []string {
	tokens := enc.Encode(text, nil, nil)
	var out []string
	for i := 0; i < len(tokens); i += budget {
		end := i + budget
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, enc.Decode(tokens[i:end]))
	}
	return out
}
