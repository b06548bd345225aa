// Package embedclient implements indexer.Embedder against an
// OpenAI-compatible embeddings endpoint, grounded on the teacher's own
// `ai/real/client.go` Embed method, reduced to a single text at a time
// and rebuilt on top of the shared httpclient.Client (tracing, rate
// limiting, and backoff/v4 retry) instead of hand-rolling another
// retry loop.
package embedclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jervisai/jervis/internal/adapter/httpclient"
	"github.com/jervisai/jervis/internal/domain"
)

func newBodyFunc(payload []byte) func() io.Reader {
	return func() io.Reader { return bytes.NewReader(payload) }
}

// Client calls an OpenAI-compatible /embeddings endpoint, routing to a
// distinct model per model kind ("text" vs "code", per indexer.ModelKind).
type Client struct {
	baseURL   string
	apiKey    string
	textModel string
	codeModel string
	http      *httpclient.Client
}

// New constructs a Client. limiter may be nil to disable rate limiting.
func New(baseURL, apiKey, textModel, codeModel string, limiter httpclient.RateLimiter) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		textModel: textModel,
		codeModel: codeModel,
		http:      httpclient.New(0, limiter),
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements indexer.Embedder.
func (c *Client) Embed(ctx domain.Context, modelKind, text string) ([]float32, error) {
	model := c.textModel
	if modelKind == "code" {
		model = c.codeModel
	}

	payload, err := json.Marshal(embedRequest{Model: model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("op=embedclient.Embed.marshal: %w", err)
	}

	headers := http.Header{
		"Content-Type":  {"application/json"},
		"Authorization": {"Bearer " + c.apiKey},
	}
	resp, err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/embeddings", newBodyFunc(payload), headers)
	if err != nil {
		return nil, fmt.Errorf("op=embedclient.Embed.do: %w", err)
	}
	defer resp.Body.Close()

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=embedclient.Embed.decode: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("op=embedclient.Embed: empty embedding response")
	}
	return out.Data[0].Embedding, nil
}
