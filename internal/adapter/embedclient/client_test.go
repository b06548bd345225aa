package embedclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedRoutesModelByKind(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1, 0.2}}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "text-model", "code-model", nil)

	vec, err := c.Embed(context.Background(), "code", "func main() {}")
	require.NoError(t, err)
	assert.Equal(t, "code-model", gotModel)
	assert.Equal(t, []float32{0.1, 0.2}, vec)

	_, err = c.Embed(context.Background(), "text", "hello")
	require.NoError(t, err)
	assert.Equal(t, "text-model", gotModel)
}

func TestEmbedErrorsOnEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "text-model", "code-model", nil)
	_, err := c.Embed(context.Background(), "text", "hello")
	assert.Error(t, err)
}
