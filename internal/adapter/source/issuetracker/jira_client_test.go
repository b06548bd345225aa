package issuetracker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
)

func TestSearchFullReturnsFullContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"startAt":    0,
			"maxResults": 100,
			"total":      1,
			"issues": []map[string]any{
				{
					"key": "PROJ-1",
					"fields": map[string]any{
						"summary":     "Example issue",
						"description": "Body text",
						"updated":     "2026-01-01T00:00:00.000-0700",
						"comment": map[string]any{
							"comments": []map[string]any{
								{"body": "first comment", "author": map[string]any{"displayName": "Alice"}},
							},
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, srv.Client(), domain.NewID())
	require.NoError(t, err)

	artifacts, err := c.SearchFull(t.Context(), "PROJ", nil)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "PROJ-1", artifacts[0].SourceKey)
	assert.Equal(t, domain.ArtifactIssueTrackerItem, artifacts[0].Kind)
	assert.Equal(t, "Example issue", artifacts[0].FullContent["summary"])
}
