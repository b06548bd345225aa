package poller

import (
	"net/http"
	"time"

	"github.com/jervisai/jervis/internal/adapter/httpclient"
)

// newSourceHTTPClient builds the rate-limited *http.Client the Jira,
// Confluence, and Git-over-HTTPS handlers hand to their respective SDKs.
func newSourceHTTPClient(timeout time.Duration, limiter issuetrackerRateLimiter) *http.Client {
	return httpclient.New(timeout, limiter).StdClient()
}
