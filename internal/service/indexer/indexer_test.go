package indexer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
)

type fakeStagingSource struct {
	mu       sync.Mutex
	queue    []domain.Artifact
	claimed  map[domain.ID]bool
	indexed  map[domain.ID]domain.ChunkStats
	failed   map[domain.ID]string
	claimErr error
}

func newFakeStagingSource(artifacts ...domain.Artifact) *fakeStagingSource {
	return &fakeStagingSource{
		queue:   artifacts,
		claimed: map[domain.ID]bool{},
		indexed: map[domain.ID]domain.ChunkStats{},
		failed:  map[domain.ID]string{},
	}
}

func (f *fakeStagingSource) FindNew(ctx domain.Context, limit int64) ([]domain.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queue
	f.queue = nil
	return out, nil
}

func (f *fakeStagingSource) ClaimForIndexing(ctx domain.Context, id domain.ID) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeStagingSource) MarkIndexed(ctx domain.Context, id domain.ID, stats domain.ChunkStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[id] = stats
	return nil
}

func (f *fakeStagingSource) MarkFailed(ctx domain.Context, id domain.ID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (e *fakeEmbedder) Embed(ctx domain.Context, modelKind, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 2, 3}, nil
}

type fakeHybridWriter struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (w *fakeHybridWriter) WriteChunk(ctx domain.Context, c Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = append(w.chunks, c)
	return nil
}

func TestProcessOneIndexesArtifactAndMarksIndexed(t *testing.T) {
	a := domain.Artifact{
		ID:   domain.NewID(),
		Kind: domain.ArtifactIssueTrackerItem,
		FullContent: map[string]any{
			"summary": "a small bug",
			"body":    "steps to reproduce go here",
		},
	}
	staging := newFakeStagingSource(a)
	embedder := &fakeEmbedder{}
	writer := &fakeHybridWriter{}
	c := NewConsumer(domain.ArtifactIssueTrackerItem, staging, embedder, writer, 2000, 2)

	processed := c.runOnce(t.Context())
	require.Equal(t, 1, processed)
	assert.Len(t, staging.indexed, 1)
	assert.Empty(t, staging.failed)
	assert.NotEmpty(t, writer.chunks)
	assert.Equal(t, "SemanticText", writer.chunks[0].Collection)
}

func TestProcessOneSkipsArtifactLostToClaimRace(t *testing.T) {
	a := domain.Artifact{ID: domain.NewID(), Kind: domain.ArtifactIssueTrackerItem, FullContent: map[string]any{"body": "x"}}
	staging := newFakeStagingSource(a)
	staging.claimed[a.ID] = true // already claimed by another worker
	writer := &fakeHybridWriter{}
	c := NewConsumer(domain.ArtifactIssueTrackerItem, staging, &fakeEmbedder{}, writer, 2000, 2)

	c.processOne(t.Context(), a)
	assert.Empty(t, staging.indexed)
	assert.Empty(t, staging.failed)
	assert.Empty(t, writer.chunks)
}

func TestProcessOneMarksFailedWhenEmbedderErrors(t *testing.T) {
	a := domain.Artifact{ID: domain.NewID(), Kind: domain.ArtifactIssueTrackerItem, FullContent: map[string]any{"body": "x"}}
	staging := newFakeStagingSource(a)
	embedder := &fakeEmbedder{err: assertError{}}
	c := NewConsumer(domain.ArtifactIssueTrackerItem, staging, embedder, &fakeHybridWriter{}, 2000, 2)

	c.processOne(t.Context(), a)
	assert.Contains(t, staging.failed, a.ID)
	assert.NotContains(t, staging.indexed, a.ID)
}

func TestIndexEmitsOneDocumentPerCommentWithParentRef(t *testing.T) {
	a := domain.Artifact{
		ID:   domain.NewID(),
		Kind: domain.ArtifactIssueTrackerItem,
		FullContent: map[string]any{
			"summary": "ticket summary",
			"comments": []any{
				map[string]any{"author": "alice", "body": "first comment"},
				map[string]any{"author": "bob", "body": "second comment"},
			},
		},
	}
	staging := newFakeStagingSource()
	writer := &fakeHybridWriter{}
	c := NewConsumer(domain.ArtifactIssueTrackerItem, staging, &fakeEmbedder{}, writer, 2000, 2)

	stats, err := c.index(t.Context(), a)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RelatedDocs)

	var sawParent bool
	for _, ch := range writer.chunks {
		if ch.ParentRef == "main" {
			sawParent = true
		}
	}
	assert.True(t, sawParent)
}

func TestRunOnceReturnsZeroWhenQueueEmpty(t *testing.T) {
	staging := newFakeStagingSource()
	c := NewConsumer(domain.ArtifactWikiPage, staging, &fakeEmbedder{}, &fakeHybridWriter{}, 2000, 2)
	assert.Equal(t, 0, c.runOnce(t.Context()))
}

type assertError struct{}

func (assertError) Error() string { return "embed failed" }
