package poller

import (
	"fmt"
	"time"

	"github.com/jervisai/jervis/internal/adapter/source/issuetracker"
	"github.com/jervisai/jervis/internal/domain"
)

// StagingWriter is the subset of mongostore.StagingRepo a handler needs.
type StagingWriter interface {
	UpsertIfNewer(ctx domain.Context, a domain.Artifact) (bool, error)
}

// CursorStore is the subset of mongostore.CursorRepo a handler needs.
type CursorStore interface {
	Get(ctx domain.Context, connectionID domain.ID, kind domain.ArtifactKind, scopeKey string) (domain.PollingCursor, bool, error)
	Upsert(ctx domain.Context, c domain.PollingCursor) error
}

// issuetrackerRateLimiter is the narrow Acquire-only view every HTTP-based
// handler needs from the C2 rate limiter.
type issuetrackerRateLimiter interface {
	Acquire(ctx domain.Context, domainName string) error
}

// IssueTrackerHandler implements poller.Handler for Connections whose
// Http.Protocol is ISSUE_TRACKER (Jira), per §4.7's issue-tracker poll
// cycle: for each project key filter, searchFull since the cursor,
// upsert every discovered issue, advance the cursor only after every
// upsert in the batch succeeds.
type IssueTrackerHandler struct {
	staging StagingWriter
	cursors CursorStore
	timeout time.Duration
	limiter issuetrackerRateLimiter
}

// NewIssueTrackerHandler constructs an IssueTrackerHandler.
func NewIssueTrackerHandler(staging StagingWriter, cursors CursorStore, timeout time.Duration, limiter issuetrackerRateLimiter) *IssueTrackerHandler {
	return &IssueTrackerHandler{staging: staging, cursors: cursors, timeout: timeout, limiter: limiter}
}

// CanHandle implements Handler.
func (h *IssueTrackerHandler) CanHandle(c domain.Connection) bool {
	return c.Kind == domain.ConnectionHTTP && c.Http != nil && c.Http.Protocol == domain.HTTPSourceIssueTracker
}

// Poll implements Handler.
func (h *IssueTrackerHandler) Poll(ctx domain.Context, c domain.Connection, clients []domain.Client) (Result, error) {
	httpc := newSourceHTTPClient(h.timeout, h.limiter)
	client, err := issuetracker.New(c.Http.BaseURL, httpc, c.ID)
	if err != nil {
		return Result{}, fmt.Errorf("op=poller.issuetracker.Poll: %w", err)
	}

	var result Result
	for _, projectKey := range projectKeysFor(clients, c.ID) {
		cur, _, err := h.cursors.Get(ctx, c.ID, domain.ArtifactIssueTrackerItem, projectKey)
		if err != nil {
			return result, fmt.Errorf("op=poller.issuetracker.Poll.cursor: %w", err)
		}

		artifacts, err := client.SearchFull(ctx, projectKey, cur.LastUpdatedSince)
		if err != nil {
			result.Errors++
			return result, fmt.Errorf("op=poller.issuetracker.Poll.search: %w", err)
		}
		result.Discovered += len(artifacts)

		latest := cur.LastUpdatedSince
		for _, a := range artifacts {
			wrote, err := h.staging.UpsertIfNewer(ctx, a)
			if err != nil {
				result.Errors++
				return result, fmt.Errorf("op=poller.issuetracker.Poll.upsert: %w", err)
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
				ConnectionID: c.ID, Kind: domain.ArtifactIssueTrackerItem, ScopeKey: projectKey, LastUpdatedSince: latest,
			}); err != nil {
				return result, fmt.Errorf("op=poller.issuetracker.Poll.advanceCursor: %w", err)
			}
		}
	}
	return result, nil
}

// projectKeysFor collects the distinct project keys that clients have
// filtered for connectionID (§4.1 ConnectionFilter.projectKeys).
func projectKeysFor(clients []domain.Client, connectionID domain.ID) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range clients {
		for _, f := range c.Filters {
			if f.ConnectionID != connectionID {
				continue
			}
			for _, key := range f.ProjectKeys {
				if !seen[key] {
					seen[key] = true
					out = append(out, key)
				}
			}
		}
	}
	return out
}
