package indexer

import (
	"fmt"

	"github.com/jervisai/jervis/internal/domain"
)

// document is one normalizable unit carved out of an artifact. A ticket
// with comments yields one document for its own summary/description plus
// one per comment, each tagged with a parentRef back to the main doc so
// the hybrid store can resolve "related" cross-references (§4.8 step 3:
// "emit the main document plus one per substructural unit, cross-
// referenced via relatedDocs").
type document struct {
	ID        string
	ParentRef string
	Text      string
}

// documentsFor splits a.FullContent into its main document and any
// substructural units it carries. Only issue tracker items currently
// have a recognized substructure (comments); every other kind yields a
// single document built from its body/summary.
func documentsFor(a domain.Artifact) []document {
	main := document{ID: "main", Text: mainText(a)}
	docs := []document{main}

	if a.Kind != domain.ArtifactIssueTrackerItem {
		return docs
	}

	comments, ok := a.FullContent["comments"].([]any)
	if !ok {
		return docs
	}
	for i, raw := range comments {
		c, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		body, _ := c["body"].(string)
		if body == "" {
			continue
		}
		author, _ := c["author"].(string)
		text := body
		if author != "" {
			text = fmt.Sprintf("%s: %s", author, body)
		}
		docs = append(docs, document{
			ID:        fmt.Sprintf("comment-%d", i),
			ParentRef: main.ID,
			Text:      text,
		})
	}
	return docs
}

// mainText assembles the primary normalizable text for an artifact from
// whichever fields its source populates.
func mainText(a domain.Artifact) string {
	var out string
	if summary, ok := a.FullContent["summary"].(string); ok && summary != "" {
		out += summary + "\n\n"
	}
	if title, ok := a.FullContent["title"].(string); ok && title != "" {
		out += title + "\n\n"
	}
	if body, ok := a.FullContent["body"].(string); ok && body != "" {
		out += body
	} else if description, ok := a.FullContent["description"].(string); ok && description != "" {
		out += description
	} else if message, ok := a.FullContent["message"].(string); ok && message != "" {
		out += message
	}
	return out
}
