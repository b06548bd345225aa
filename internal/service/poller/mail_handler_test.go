package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
)

type fakeMailReader struct {
	artifacts []domain.Artifact
	maxUID    uint32
	closed    bool
}

func (f *fakeMailReader) OpenFolder(ctx domain.Context, folder string) error { return nil }
func (f *fakeMailReader) FetchByUID(ctx domain.Context, lastUID uint32) ([]domain.Artifact, uint32, error) {
	return f.artifacts, f.maxUID, nil
}
func (f *fakeMailReader) Close() error { f.closed = true; return nil }

type fakeStaging struct {
	upserted []domain.Artifact
	failAt   int
	calls    int
}

func (s *fakeStaging) UpsertIfNewer(ctx domain.Context, a domain.Artifact) (bool, error) {
	defer func() { s.calls++ }()
	if s.failAt >= 0 && s.calls == s.failAt {
		return false, assert.AnError
	}
	s.upserted = append(s.upserted, a)
	return true, nil
}

type fakeCursors struct {
	stored map[string]domain.PollingCursor
}

func newFakeCursors() *fakeCursors { return &fakeCursors{stored: map[string]domain.PollingCursor{}} }

func (c *fakeCursors) Get(ctx domain.Context, connectionID domain.ID, kind domain.ArtifactKind, scopeKey string) (domain.PollingCursor, bool, error) {
	cur, ok := c.stored[scopeKey]
	return cur, ok, nil
}
func (c *fakeCursors) Upsert(ctx domain.Context, cur domain.PollingCursor) error {
	c.stored[cur.ScopeKey] = cur
	return nil
}

func TestMailHandlerFillsErrorPlaceholderWhenBodyMissing(t *testing.T) {
	staging := &fakeStaging{failAt: -1}
	cursors := newFakeCursors()
	h := &MailHandler{staging: staging, cursors: cursors, kind: domain.ConnectionIMAP}

	c := domain.Connection{ID: domain.NewID(), Kind: domain.ConnectionIMAP, Mail: &domain.MailVariant{Host: "mail.example.com", Port: 993}}
	h.reader = &fakeMailReader{
		artifacts: []domain.Artifact{{SourceKey: "1", FullContent: map[string]any{}}},
		maxUID:    1,
	}

	result, err := h.Poll(t.Context(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	require.Len(t, staging.upserted, 1)
	assert.Equal(t, "[ERROR: message body could not be parsed]", staging.upserted[0].FullContent["body"])
}

func TestMailHandlerDoesNotAdvanceCursorOnPartialFailure(t *testing.T) {
	staging := &fakeStaging{failAt: 1}
	cursors := newFakeCursors()
	h := &MailHandler{staging: staging, cursors: cursors, kind: domain.ConnectionIMAP}

	c := domain.Connection{ID: domain.NewID(), Kind: domain.ConnectionIMAP, Mail: &domain.MailVariant{Host: "mail.example.com", Port: 993}}
	h.reader = &fakeMailReader{
		artifacts: []domain.Artifact{
			{SourceKey: "1", FullContent: map[string]any{"body": "a"}},
			{SourceKey: "2", FullContent: map[string]any{"body": "b"}},
		},
		maxUID: 2,
	}

	result, err := h.Poll(t.Context(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	_, ok := cursors.stored["INBOX"]
	assert.False(t, ok, "a batch with any failed upsert must not advance the cursor")
}
