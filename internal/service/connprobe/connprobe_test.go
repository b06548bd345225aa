package connprobe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
)

type fakeUpdater struct {
	validID    domain.ID
	invalidID  domain.ID
	invalidMsg string
}

func (f *fakeUpdater) MarkValid(ctx domain.Context, id domain.ID) error {
	f.validID = id
	return nil
}

func (f *fakeUpdater) MarkInvalid(ctx domain.Context, id domain.ID, reason string) error {
	f.invalidID = id
	f.invalidMsg = reason
	return nil
}

func TestServiceTestHTTPMarksValidOn2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	updater := &fakeUpdater{}
	svc := New(updater, nil)
	c := domain.Connection{
		ID:   domain.NewID(),
		Kind: domain.ConnectionHTTP,
		Http: &domain.HTTPVariant{
			BaseURL:     ts.URL,
			Protocol:    domain.HTTPSourceIssueTracker,
			AuthType:    domain.AuthBearer,
			Credentials: map[string]string{"token": "secret-token"},
		},
	}

	ok, reason, err := svc.Test(t.Context(), c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, c.ID, updater.validID)
}

func TestServiceTestHTTPMarksInvalidOnAuthFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	updater := &fakeUpdater{}
	svc := New(updater, nil)
	c := domain.Connection{
		ID:   domain.NewID(),
		Kind: domain.ConnectionHTTP,
		Http: &domain.HTTPVariant{BaseURL: ts.URL, AuthType: domain.AuthNone},
	}

	ok, reason, err := svc.Test(t.Context(), c)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
	assert.Equal(t, c.ID, updater.invalidID)
	assert.Equal(t, reason, updater.invalidMsg)
}

func TestServiceTestUnknownKindFails(t *testing.T) {
	updater := &fakeUpdater{}
	svc := New(updater, nil)
	ok, reason, err := svc.Test(t.Context(), domain.Connection{ID: domain.NewID(), Kind: "BOGUS"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reason, "unknown connection kind")
}
