package hybridstore

import (
	"fmt"

	"github.com/jervisai/jervis/internal/domain"
	"github.com/jervisai/jervis/internal/service/indexer"
)

// Writer implements indexer.HybridWriter against the Weaviate-shaped
// REST store.
type Writer struct {
	rest *restClient
}

// NewWriter constructs a Writer against the same store Manager
// provisions, sharing no state with it so the indexer's write path
// doesn't depend on schema-manager internals.
func NewWriter(baseURL, apiKey string) *Writer {
	return &Writer{rest: newRESTClient(baseURL, apiKey)}
}

// WriteChunk implements indexer.HybridWriter.
func (w *Writer) WriteChunk(ctx domain.Context, c indexer.Chunk) error {
	props := map[string]any{
		"text":       c.Text,
		"clientId":   c.ClientID.Hex(),
		"sourceType": c.SourceType,
		"sourceUri":  c.SourceURI,
		"branch":     c.Branch,
		"language":   c.Language,
		"lineStart":  c.LineStart,
		"lineEnd":    c.LineEnd,
		"chunkId":    c.ChunkID,
		"chunkOf":    c.ChunkOf,
		"parentRef":  c.ParentRef,
	}
	if c.ProjectID != nil {
		props["projectId"] = c.ProjectID.Hex()
	}
	obj := weaviateObject{Class: c.Collection, Properties: props, Vector: c.Vector}
	if err := w.rest.createObject(ctx, obj); err != nil {
		return fmt.Errorf("op=hybridstore.WriteChunk: %w", err)
	}
	return nil
}
