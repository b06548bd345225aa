package hybridstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// restClient is a minimal hand-rolled Weaviate HTTP client, following the
// teacher's qdrant client's shape (schema/object REST calls over a single
// otelhttp-wrapped *http.Client) since no Weaviate client library appears
// anywhere in the retrieved pack.
type restClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newRESTClient(baseURL, apiKey string) *restClient {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("weaviate %s %s", r.Method, r.URL.Path)
		}),
	)
	return &restClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second, Transport: transport},
	}
}

func (c *restClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// getClass fetches a class's current schema. ok is false if the class
// does not exist yet (404).
func (c *restClient) getClass(ctx context.Context, class string) (classSchema, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/schema/%s", c.baseURL, class), nil)
	if err != nil {
		return classSchema{}, false, fmt.Errorf("op=hybridstore.getClass.newRequest: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return classSchema{}, false, fmt.Errorf("op=hybridstore.getClass.do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return classSchema{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return classSchema{}, false, fmt.Errorf("op=hybridstore.getClass: status %d", resp.StatusCode)
	}
	var out classSchema
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return classSchema{}, false, fmt.Errorf("op=hybridstore.getClass.decode: %w", err)
	}
	return out, true, nil
}

func (c *restClient) createClass(ctx context.Context, s classSchema) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("op=hybridstore.createClass.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/schema", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=hybridstore.createClass.newRequest: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("op=hybridstore.createClass.do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=hybridstore.createClass: status %d", resp.StatusCode)
	}
	return nil
}

func (c *restClient) dropClass(ctx context.Context, class string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/v1/schema/%s", c.baseURL, class), nil)
	if err != nil {
		return fmt.Errorf("op=hybridstore.dropClass.newRequest: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("op=hybridstore.dropClass.do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("op=hybridstore.dropClass: status %d", resp.StatusCode)
	}
	return nil
}

func (c *restClient) addProperty(ctx context.Context, class string, p property) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("op=hybridstore.addProperty.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v1/schema/%s/properties", c.baseURL, class), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=hybridstore.addProperty.newRequest: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("op=hybridstore.addProperty.do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=hybridstore.addProperty: status %d", resp.StatusCode)
	}
	return nil
}

type weaviateObject struct {
	Class      string         `json:"class"`
	ID         string         `json:"id,omitempty"`
	Properties map[string]any `json:"properties"`
	Vector     []float32      `json:"vector"`
}

func (c *restClient) createObject(ctx context.Context, obj weaviateObject) error {
	body, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("op=hybridstore.createObject.marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/objects", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=hybridstore.createObject.newRequest: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("op=hybridstore.createObject.do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("op=hybridstore.createObject: status %d", resp.StatusCode)
	}
	return nil
}
