package linksafety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
)

type fakeCache struct {
	unsafe   map[string]domain.UnsafeLink
	indexed  map[string]bool
	patterns []domain.LearnedPattern
	learned  []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{unsafe: map[string]domain.UnsafeLink{}, indexed: map[string]bool{}}
}

func (c *fakeCache) IsUnsafe(ctx domain.Context, url string) (domain.UnsafeLink, bool, error) {
	u, ok := c.unsafe[url]
	return u, ok, nil
}
func (c *fakeCache) MarkUnsafe(ctx domain.Context, url, reason string) error {
	c.unsafe[url] = domain.UnsafeLink{URL: url, Reason: reason}
	return nil
}
func (c *fakeCache) EnabledPatterns(ctx domain.Context) ([]domain.LearnedPattern, error) {
	return c.patterns, nil
}
func (c *fakeCache) LearnPattern(ctx domain.Context, pattern, reason string) error {
	c.learned = append(c.learned, pattern)
	return nil
}
func (c *fakeCache) IsIndexed(ctx domain.Context, url string, clientID domain.ID) (bool, error) {
	return c.indexed[url], nil
}

type explodingLLM struct{ called bool }

func (l *explodingLLM) Classify(ctx domain.Context, url, text string) (domain.LinkClassification, string, error) {
	l.called = true
	return domain.LinkUncertain, "should not be called", nil
}

// TestCalendarLinkIsUnsafeAndCached covers scenario S4: a calendar RSVP
// link is UNSAFE on first qualification, cached, and a second
// qualification never reaches the LLM step.
func TestCalendarLinkIsUnsafeAndCached(t *testing.T) {
	cache := newFakeCache()
	llm := &explodingLLM{}
	q := New(cache, llm, nil)
	clientID := domain.NewID()
	url := "https://calendar.example.com/event?action=accept&token=abc"

	res, err := q.Qualify(t.Context(), url, clientID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkUnsafe, res.Classification)
	assert.Contains(t, res.Reason, "accept")
	assert.False(t, llm.called)

	res2, err := q.Qualify(t.Context(), url, clientID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkUnsafe, res2.Classification)
	assert.False(t, llm.called, "cached UNSAFE must short-circuit before any LLM call")
}

func TestAlreadyIndexedIsSafe(t *testing.T) {
	cache := newFakeCache()
	clientID := domain.NewID()
	cache.indexed["https://docs.example.com/page"] = true
	q := New(cache, nil, nil)

	res, err := q.Qualify(t.Context(), "https://docs.example.com/page", clientID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkSafe, res.Classification)
}

func TestDomainWhitelistIsSafe(t *testing.T) {
	q := New(newFakeCache(), nil, nil)
	res, err := q.Qualify(t.Context(), "https://github.com/org/repo", domain.NewID(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkSafe, res.Classification)
}

func TestDomainBlacklistIsUnsafe(t *testing.T) {
	q := New(newFakeCache(), nil, nil)
	res, err := q.Qualify(t.Context(), "https://bit.ly/abc123", domain.NewID(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkUnsafe, res.Classification)
}

func TestUnsubscribeLinkIsUnsafe(t *testing.T) {
	q := New(newFakeCache(), nil, nil)
	res, err := q.Qualify(t.Context(), "https://news.example.com/unsubscribe?id=1", domain.NewID(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkUnsafe, res.Classification)
}

func TestNonImageTrackerPixelIsUnsafe(t *testing.T) {
	q := New(newFakeCache(), nil, nil)
	res, err := q.Qualify(t.Context(), "https://mail.example.com/open.gif?id=1", domain.NewID(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkUnsafe, res.Classification)
}

func TestOrdinaryImageIsSkipped(t *testing.T) {
	q := New(newFakeCache(), nil, nil)
	res, err := q.Qualify(t.Context(), "https://example.com/photo.jpg", domain.NewID(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkUncertain, res.Classification)
	assert.Contains(t, res.Reason, "not qualified")
}

func TestDefaultFallsBackToUncertainAndRaisesReviewTask(t *testing.T) {
	var created []domain.Task
	tasks := taskCreatorFunc(func(ctx domain.Context, t domain.Task) (domain.ID, error) {
		created = append(created, t)
		return domain.NewID(), nil
	})
	q := New(newFakeCache(), nil, tasks)
	res, err := q.Qualify(t.Context(), "https://unknown-host.example/page", domain.NewID(), "some context")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkUncertain, res.Classification)
	require.Len(t, created, 1)
	assert.Equal(t, "LINK_SAFETY_REVIEW", created[0].Type)
}

type taskCreatorFunc func(ctx domain.Context, t domain.Task) (domain.ID, error)

func (f taskCreatorFunc) Create(ctx domain.Context, t domain.Task) (domain.ID, error) { return f(ctx, t) }
