// Package issuetracker implements the C3 IssueTrackerClient over Jira.
package issuetracker

import (
	"fmt"
	"net/http"
	"time"

	jira "github.com/andygrunwald/go-jira"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

var tracer = otel.Tracer("jervis/source/issuetracker")

// Client implements domain.IssueTrackerClient over a Jira REST API.
type Client struct {
	jira         *jira.Client
	connectionID domain.ID
}

// New constructs a Client for the given Jira base URL, authenticating
// httpClient as the already-configured transport (basic auth, bearer
// token, or API key, depending on the owning Connection's AuthType).
func New(baseURL string, httpClient *http.Client, connectionID domain.ID) (*Client, error) {
	jc, err := jira.NewClient(httpClient, baseURL)
	if err != nil {
		return nil, fmt.Errorf("op=issuetracker.New: %w", &domain.PermanentError{Err: err})
	}
	return &Client{jira: jc, connectionID: connectionID}, nil
}

// SearchFull implements domain.IssueTrackerClient. It fetches every issue
// in projectKey updated since the cursor, each with comments and
// attachment metadata expanded in the same call (§4.3: never truncate).
func (c *Client) SearchFull(ctx domain.Context, projectKey string, updatedSince *time.Time) ([]domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "issuetracker.SearchFull")
	defer span.End()

	jql := fmt.Sprintf("project = %q ORDER BY updated ASC", projectKey)
	if updatedSince != nil {
		jql = fmt.Sprintf("project = %q AND updated >= %q ORDER BY updated ASC", projectKey, updatedSince.Format("2006-01-02 15:04"))
	}

	opts := &jira.SearchOptions{
		Expand:     "renderedFields",
		Fields:     []string{"summary", "description", "comment", "attachment", "updated", "status", "assignee"},
		MaxResults: 100,
	}

	var out []domain.Artifact
	startAt := 0
	for {
		opts.StartAt = startAt
		issues, resp, err := c.jira.Issue.SearchWithContext(ctx, jql, opts)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, fmt.Errorf("op=issuetracker.SearchFull: %w", &domain.AuthError{Err: err})
			}
			return nil, fmt.Errorf("op=issuetracker.SearchFull: %w", &domain.TransientError{Err: err})
		}
		for _, issue := range issues {
			out = append(out, c.toArtifact(issue))
		}
		if len(issues) == 0 || resp == nil || startAt+len(issues) >= resp.Total {
			break
		}
		startAt += len(issues)
	}
	return out, nil
}

func (c *Client) toArtifact(issue jira.Issue) domain.Artifact {
	comments := []map[string]any{}
	if issue.Fields.Comments != nil {
		for _, cm := range issue.Fields.Comments.Comments {
			comments = append(comments, map[string]any{
				"author": cm.Author.DisplayName,
				"body":   cm.Body,
				"created": cm.Created,
			})
		}
	}
	attachments := []map[string]any{}
	for _, a := range issue.Fields.Attachments {
		attachments = append(attachments, map[string]any{
			"filename": a.Filename,
			"size":     a.Size,
			"mimeType": a.MimeType,
			"url":      a.Content,
		})
	}

	updatedAt := time.Time(issue.Fields.Updated)

	return domain.Artifact{
		Kind:              domain.ArtifactIssueTrackerItem,
		ConnectionID:      c.connectionID,
		SourceKey:         issue.Key,
		ExternalUpdatedAt: updatedAt,
		FullContent: map[string]any{
			"summary":     issue.Fields.Summary,
			"description": issue.Fields.Description,
			"status":      statusName(issue),
			"comments":    comments,
			"attachments": attachments,
		},
	}
}

func statusName(issue jira.Issue) string {
	if issue.Fields.Status == nil {
		return ""
	}
	return issue.Fields.Status.Name
}
