package indexer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitReturnsSingleChunkUnderBudget(t *testing.T) {
	c := NewChunker(1000)
	chunks, err := c.Split("a short paragraph")
	require.NoError(t, err)
	assert.Equal(t, []string{"a short paragraph"}, chunks)
}

func TestSplitBreaksOnParagraphBoundaries(t *testing.T) {
	c := NewChunker(10)
	para := strings.Repeat("word ", 20)
	text := para + "\n\n" + para + "\n\n" + para
	chunks, err := c.Split(text)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		n, err := c.CountTokens(chunk)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, c.budget())
	}
}

func TestSplitFallsBackToTokenSlicingForOversizedParagraph(t *testing.T) {
	c := NewChunker(10)
	huge := strings.Repeat("supercalifragilisticexpialidocious ", 200)
	chunks, err := c.Split(huge)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
}

func TestCountTokensIsDeterministic(t *testing.T) {
	c := NewChunker(1000)
	n1, err := c.CountTokens("hello world")
	require.NoError(t, err)
	n2, err := c.CountTokens("hello world")
	require.NoError(t, err)
	assert.Equal(t, n1, n2)
	assert.Greater(t, n1, 0)
}

func TestBudgetAppliesSafetyMargin(t *testing.T) {
	c := NewChunker(100)
	assert.Equal(t, 90, c.budget())
}
