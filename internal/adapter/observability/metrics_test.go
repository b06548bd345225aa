package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddlewarePassesStatusThrough(t *testing.T) {
	PollCyclesTotal.Reset()
	handler := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCounterVecsAcceptLabels(t *testing.T) {
	ArtifactsDiscoveredTotal.WithLabelValues("issue_tracker_items").Inc()
	TaskTransitionsTotal.WithLabelValues("READY_FOR_QUALIFICATION", "QUALIFYING").Inc()
	LinkQualificationsTotal.WithLabelValues("SAFE").Inc()
}
