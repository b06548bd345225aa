// Package orchestrator implements the C10 Task Orchestrator Gateway: a
// thin HTTP client over the planner boundary (§6 "Planner boundary").
// It posts a task to the external planner, recovers the thread id the
// planner assigns, and exposes a status poll. It never interprets the
// planner's SSE token stream itself — streaming the chat reply to a UI
// is the REST surface's job (out of scope, §1) — it only needs the
// thread id the stream's response carries so the orchestrator poll loop
// can track completion.
package orchestrator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/jervisai/jervis/internal/adapter/httpclient"
	"github.com/jervisai/jervis/internal/domain"
	"github.com/jervisai/jervis/internal/service/taskengine"
)

// threadIDHeader carries the planner's assigned thread id on the
// initial /chat response, before the SSE body starts streaming.
const threadIDHeader = "X-Thread-Id"

// Client implements taskengine.Planner against the planner boundary.
type Client struct {
	baseURL string
	http    *httpclient.Client
}

// New constructs a Client against baseURL (e.g. "http://localhost:9000").
func New(baseURL string, limiter httpclient.RateLimiter) *Client {
	return &Client{baseURL: baseURL, http: httpclient.New(0, limiter)}
}

type chatRequest struct {
	SessionID       string  `json:"sessionId"`
	Message         string  `json:"message"`
	MessageSequence int     `json:"messageSequence"`
	UserID          string  `json:"userId"`
	ActiveClientID  *string `json:"activeClientId,omitempty"`
	ActiveProjectID *string `json:"activeProjectId,omitempty"`
	ContextTaskID   *string `json:"contextTaskId,omitempty"`
}

// Dispatch posts t to the planner's /chat endpoint and returns the
// thread id the planner assigns. It does not wait for the chat turn to
// finish: once the thread id is recovered from the response, the
// remaining SSE body is drained in the background and Dispatch returns,
// per §4.10 "never blocks the execution loop beyond the call itself".
func (c *Client) Dispatch(ctx domain.Context, t domain.Task) (string, error) {
	sessionID := t.CorrelationID
	if sessionID == "" {
		sessionID = t.ID.Hex()
	}
	clientID := t.ClientID.Hex()
	taskID := t.ID.Hex()
	body := chatRequest{
		SessionID:       sessionID,
		Message:         t.Content,
		MessageSequence: 0,
		UserID:          clientID,
		ActiveClientID:  &clientID,
		ContextTaskID:   &taskID,
	}
	if t.ProjectID != nil {
		projectID := t.ProjectID.Hex()
		body.ActiveProjectID = &projectID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("op=orchestrator.Dispatch.marshal: %w", err)
	}

	headers := http.Header{"Content-Type": {"application/json"}, "Accept": {"text/event-stream"}}
	resp, err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/chat", newBodyFunc(payload), headers)
	if err != nil {
		return "", fmt.Errorf("op=orchestrator.Dispatch.do: %w", err)
	}

	threadID := resp.Header.Get(threadIDHeader)
	if threadID == "" {
		_ = resp.Body.Close()
		return "", fmt.Errorf("op=orchestrator.Dispatch: planner response missing %s header", threadIDHeader)
	}

	// Drain the SSE stream in the background so the connection is
	// released; nothing downstream of Dispatch needs the chat turn's
	// tokens, only its eventual status via GetStatus.
	go drainSSE(resp.Body)

	return threadID, nil
}

func drainSSE(body io.ReadCloser) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		// discard; the orchestrator poll loop owns completion tracking.
	}
}

func newBodyFunc(payload []byte) func() io.Reader {
	return func() io.Reader { return bytes.NewReader(payload) }
}

type statusResponse struct {
	Status              string `json:"status"`
	InterruptAction     string `json:"interrupt_action"`
	InterruptDescription string `json:"interrupt_description"`
	Summary             string `json:"summary"`
	Error               string `json:"error"`
}

// GetStatus polls the planner's status endpoint for threadID. A
// connectivity failure is treated as "still running" rather than
// surfaced as an error, per §4.10 "must tolerate the planner being
// unreachable" — the orchestrator poll loop retries on its own cadence.
func (c *Client) GetStatus(ctx domain.Context, threadID string) (taskengine.PlannerStatus, error) {
	q := url.Values{"threadId": {threadID}}
	resp, err := c.http.Do(ctx, http.MethodGet, c.baseURL+"/status?"+q.Encode(), nil, nil)
	if err != nil {
		return taskengine.PlannerStatus{State: taskengine.PlannerRunning}, nil
	}
	defer resp.Body.Close()

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return taskengine.PlannerStatus{}, fmt.Errorf("op=orchestrator.GetStatus.decode: %w", err)
	}

	return taskengine.PlannerStatus{
		State:                taskengine.PlannerState(parsed.Status),
		InterruptAction:      parsed.InterruptAction,
		InterruptDescription: parsed.InterruptDescription,
		Summary:              parsed.Summary,
		Error:                parsed.Error,
	}, nil
}

// Stop cancels an in-flight chat turn via POST /chat/stop.
func (c *Client) Stop(ctx domain.Context, threadID string) error {
	payload, err := json.Marshal(struct {
		ThreadID string `json:"threadId"`
	}{ThreadID: threadID})
	if err != nil {
		return fmt.Errorf("op=orchestrator.Stop.marshal: %w", err)
	}
	resp, err := c.http.Do(ctx, http.MethodPost, c.baseURL+"/chat/stop", newBodyFunc(payload), http.Header{"Content-Type": {"application/json"}})
	if err != nil {
		return fmt.Errorf("op=orchestrator.Stop.do: %w", err)
	}
	return resp.Body.Close()
}
