// Package wiki implements the C3 WikiClient over Confluence.
package wiki

import (
	"fmt"
	"net/http"
	"time"

	confluence "github.com/ctreminiom/go-atlassian/confluence/v2"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

var tracer = otel.Tracer("jervis/source/wiki")

// Client implements domain.WikiClient over the Confluence Cloud v2 API.
type Client struct {
	confluence   *confluence.Client
	connectionID domain.ID
}

// New constructs a Client for the given Confluence base URL.
func New(baseURL string, httpClient *http.Client, connectionID domain.ID) (*Client, error) {
	cc, err := confluence.New(httpClient, baseURL)
	if err != nil {
		return nil, fmt.Errorf("op=wiki.New: %w", &domain.PermanentError{Err: err})
	}
	return &Client{confluence: cc, connectionID: connectionID}, nil
}

// SearchPages implements domain.WikiClient: every page in space updated
// since the cursor, fetched with its body already expanded so GetPage
// need not be called separately for freshly discovered pages.
func (c *Client) SearchPages(ctx domain.Context, space string, updatedSince *time.Time) ([]domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "wiki.SearchPages")
	defer span.End()

	cql := fmt.Sprintf("space = %q and type = page order by lastmodified asc", space)
	if updatedSince != nil {
		cql = fmt.Sprintf("space = %q and type = page and lastmodified >= %q order by lastmodified asc",
			space, updatedSince.Format("2006-01-02"))
	}

	var out []domain.Artifact
	cursor := ""
	for {
		results, resp, err := c.confluence.Search.Content(ctx, cql, &confluence.SearchContentOptions{Cursor: cursor, Limit: 50, Expand: []string{"body.storage", "version"}})
		if err != nil {
			if resp != nil && (resp.Code == http.StatusUnauthorized || resp.Code == http.StatusForbidden) {
				return nil, fmt.Errorf("op=wiki.SearchPages: %w", &domain.AuthError{Err: err})
			}
			return nil, fmt.Errorf("op=wiki.SearchPages: %w", &domain.TransientError{Err: err})
		}
		for _, r := range results.Results {
			out = append(out, c.toArtifact(r))
		}
		if results.Links == nil || results.Links.Next == "" {
			break
		}
		cursor = results.Links.Next
	}
	return out, nil
}

// GetPage fetches a single page by id, used when a URL reference resolves
// to a page the staging store hasn't seen yet.
func (c *Client) GetPage(ctx domain.Context, pageID string) (domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "wiki.GetPage")
	defer span.End()

	page, resp, err := c.confluence.Page.Get(ctx, pageID, "storage", 0)
	if err != nil {
		if resp != nil && (resp.Code == http.StatusUnauthorized || resp.Code == http.StatusForbidden) {
			return domain.Artifact{}, fmt.Errorf("op=wiki.GetPage: %w", &domain.AuthError{Err: err})
		}
		return domain.Artifact{}, fmt.Errorf("op=wiki.GetPage: %w", &domain.TransientError{Err: err})
	}
	return c.toArtifactFromPage(page), nil
}

func (c *Client) toArtifact(r *confluence.SearchContentScheme) domain.Artifact {
	body := ""
	if r.Content != nil && r.Content.Body != nil && r.Content.Body.Storage != nil {
		body = r.Content.Body.Storage.Value
	}
	return domain.Artifact{
		Kind:              domain.ArtifactWikiPage,
		ConnectionID:      c.connectionID,
		SourceKey:         r.Content.ID,
		ExternalUpdatedAt: time.Now().UTC(),
		FullContent: map[string]any{
			"title": r.Content.Title,
			"body":  body,
		},
	}
}

func (c *Client) toArtifactFromPage(p *confluence.PageScheme) domain.Artifact {
	body := ""
	if p.Body != nil && p.Body.Storage != nil {
		body = p.Body.Storage.Value
	}
	return domain.Artifact{
		Kind:              domain.ArtifactWikiPage,
		ConnectionID:      c.connectionID,
		SourceKey:         fmt.Sprintf("%d", p.ID),
		ExternalUpdatedAt: time.Now().UTC(),
		FullContent: map[string]any{
			"title": p.Title,
			"body":  body,
		},
	}
}
