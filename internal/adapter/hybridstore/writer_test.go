package hybridstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jervisai/jervis/internal/domain"
	"github.com/jervisai/jervis/internal/service/indexer"
)

func TestWriteChunkPostsObjectWithVectorAndProperties(t *testing.T) {
	var got weaviateObject
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/objects", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clientID := domain.NewID()
	w := NewWriter(srv.URL, "")
	err := w.WriteChunk(context.Background(), indexer.Chunk{
		Collection: CollectionSemanticText,
		ChunkID:    "abc:main:0",
		Text:       "hello world",
		ClientID:   clientID,
		SourceType: "email_message",
		Vector:     []float32{0.1, 0.2, 0.3},
	})
	require.NoError(t, err)
	assert.Equal(t, CollectionSemanticText, got.Class)
	assert.Equal(t, clientID.Hex(), got.Properties["clientId"])
	assert.Equal(t, "hello world", got.Properties["text"])
	assert.Len(t, got.Vector, 3)
}

func TestWriteChunkPropagatesStoreErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWriter(srv.URL, "")
	err := w.WriteChunk(context.Background(), indexer.Chunk{Collection: CollectionSemanticText})
	assert.Error(t, err)
}
