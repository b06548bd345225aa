// Package httpclient provides the shared outbound HTTP client every C3
// source client is built on: otelhttp tracing, cenkalti/backoff retries of
// failures wrapped as domain.TransientError (round-trip errors, 429, 5xx;
// 401/403 become domain.AuthError and other 4xx domain.PermanentError,
// neither retried), and a mandatory rate-limiter token acquisition per
// request (§4.2, §4.3).
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jervisai/jervis/internal/domain"
)

// RateLimiter is the subset of ratelimiter.DomainLimiter a Client needs.
// Declared here (consumer side) so httpclient doesn't import the adapter
// package directly.
type RateLimiter interface {
	Acquire(ctx context.Context, domainName string) error
}

// Client wraps http.Client with tracing, rate limiting, and retry,
// shared by every C3 source client (§4.3 "Use the rate limiter; honor
// per-connection timeout").
type Client struct {
	http    *http.Client
	limiter RateLimiter
}

// New constructs a Client with the given per-connection timeout. limiter
// may be nil to disable rate limiting (used by handlers over protocols
// the limiter doesn't cover, e.g. raw IMAP/git).
func New(timeout time.Duration, limiter RateLimiter) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := otelhttp.NewTransport(
		&rateLimitedTransport{next: http.DefaultTransport, limiter: limiter},
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}),
	)
	return &Client{
		http:    &http.Client{Timeout: timeout, Transport: transport},
		limiter: limiter,
	}
}

// StdClient returns the underlying *http.Client, for handing to
// third-party API SDKs (Jira, Confluence) that demand one directly.
// Rate limiting still applies at the transport level; retry/backoff
// classification (Do, below) does not, since those SDKs parse their own
// error responses.
func (c *Client) StdClient() *http.Client {
	return c.http
}

// rateLimitedTransport acquires a per-host rate-limit token before every
// round trip, so SDK-owned *http.Client usage (Jira, Confluence) is
// still subject to the C2 limiter even though it bypasses Client.Do.
type rateLimitedTransport struct {
	next    http.RoundTripper
	limiter RateLimiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Acquire(req.Context(), req.URL.Hostname()); err != nil {
			return nil, fmt.Errorf("op=httpclient.rateLimitedTransport: %w", err)
		}
	}
	return t.next.RoundTrip(req)
}

// newRetry builds a fresh backoff policy per request; backoff.BackOff is
// stateful (tracks elapsed time), so it must never be shared across calls.
func newRetry(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 10 * time.Second
	eb.MaxElapsedTime = 2 * time.Minute
	return backoff.WithContext(eb, ctx)
}

// Do acquires a rate-limit token for the request's host, then executes
// it with retry on transient failures. newBody is re-invoked on every
// attempt so request bodies can be re-read (http.Request.Body is
// single-use); pass nil for bodyless requests.
func (c *Client) Do(ctx domain.Context, method, rawURL string, newBody func() io.Reader, headers http.Header) (*http.Response, error) {
	// Rate limiting happens once, in rateLimitedTransport, so it applies
	// uniformly whether the caller goes through Do or hands StdClient to
	// a third-party SDK.
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("op=httpclient.Do.parse: %w", &domain.PermanentError{Err: err})
	}

	var resp *http.Response
	op := func() error {
		var body io.Reader
		if newBody != nil {
			body = newBody()
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=httpclient.Do.newRequest: %w", &domain.PermanentError{Err: err}))
		}
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		r, doErr := c.http.Do(req)
		if doErr != nil {
			return fmt.Errorf("op=httpclient.Do.roundtrip: %w", &domain.TransientError{Err: doErr})
		}

		switch {
		case r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden:
			_ = r.Body.Close()
			return backoff.Permanent(fmt.Errorf("op=httpclient.Do.auth status=%d: %w", r.StatusCode, &domain.AuthError{Err: fmt.Errorf("status %d", r.StatusCode)}))
		case r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500:
			_ = r.Body.Close()
			return fmt.Errorf("op=httpclient.Do.status=%d: %w", r.StatusCode, &domain.TransientError{Err: fmt.Errorf("status %d", r.StatusCode)})
		case r.StatusCode >= 400:
			_ = r.Body.Close()
			return backoff.Permanent(fmt.Errorf("op=httpclient.Do.status=%d: %w", r.StatusCode, &domain.PermanentError{Err: fmt.Errorf("status %d", r.StatusCode)}))
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, newRetry(ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}
