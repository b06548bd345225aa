package poller

import (
	"fmt"
	"time"

	"github.com/jervisai/jervis/internal/adapter/source/wiki"
	"github.com/jervisai/jervis/internal/domain"
)

// WikiHandler implements poller.Handler for Connections whose Http.Protocol
// is WIKI (Confluence), mirroring IssueTrackerHandler's cursor discipline
// but scoped by wiki space instead of project key (§4.7).
type WikiHandler struct {
	staging StagingWriter
	cursors CursorStore
	timeout time.Duration
	limiter issuetrackerRateLimiter
}

// NewWikiHandler constructs a WikiHandler.
func NewWikiHandler(staging StagingWriter, cursors CursorStore, timeout time.Duration, limiter issuetrackerRateLimiter) *WikiHandler {
	return &WikiHandler{staging: staging, cursors: cursors, timeout: timeout, limiter: limiter}
}

// CanHandle implements Handler.
func (h *WikiHandler) CanHandle(c domain.Connection) bool {
	return c.Kind == domain.ConnectionHTTP && c.Http != nil && c.Http.Protocol == domain.HTTPSourceWiki
}

// Poll implements Handler.
func (h *WikiHandler) Poll(ctx domain.Context, c domain.Connection, clients []domain.Client) (Result, error) {
	httpc := newSourceHTTPClient(h.timeout, h.limiter)
	client, err := wiki.New(c.Http.BaseURL, httpc, c.ID)
	if err != nil {
		return Result{}, fmt.Errorf("op=poller.wiki.Poll: %w", err)
	}

	var result Result
	for _, space := range wikiSpacesFor(clients, c.ID) {
		cur, _, err := h.cursors.Get(ctx, c.ID, domain.ArtifactWikiPage, space)
		if err != nil {
			return result, fmt.Errorf("op=poller.wiki.Poll.cursor: %w", err)
		}

		artifacts, err := client.SearchPages(ctx, space, cur.LastUpdatedSince)
		if err != nil {
			result.Errors++
			return result, fmt.Errorf("op=poller.wiki.Poll.search: %w", err)
		}
		result.Discovered += len(artifacts)

		latest := cur.LastUpdatedSince
		for _, a := range artifacts {
			wrote, err := h.staging.UpsertIfNewer(ctx, a)
			if err != nil {
				result.Errors++
				return result, fmt.Errorf("op=poller.wiki.Poll.upsert: %w", err)
			}
			if wrote {
				result.Created++
			} else {
				result.Skipped++
			}
			if latest == nil || a.ExternalUpdatedAt.After(*latest) {
				t := a.ExternalUpdatedAt
				latest = &t
			}
		}

		if latest != nil {
			if err := h.cursors.Upsert(ctx, domain.PollingCursor{
				ConnectionID: c.ID, Kind: domain.ArtifactWikiPage, ScopeKey: space, LastUpdatedSince: latest,
			}); err != nil {
				return result, fmt.Errorf("op=poller.wiki.Poll.advanceCursor: %w", err)
			}
		}
	}
	return result, nil
}

func wikiSpacesFor(clients []domain.Client, connectionID domain.ID) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range clients {
		for _, f := range c.Filters {
			if f.ConnectionID != connectionID {
				continue
			}
			for _, space := range f.WikiSpaces {
				if !seen[space] {
					seen[space] = true
					out = append(out, space)
				}
			}
		}
	}
	return out
}
