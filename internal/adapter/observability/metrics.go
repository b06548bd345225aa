// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for distributed tracing and Prometheus
// for metrics collection, and wraps the process-wide slog logger.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts admin/health HTTP requests by route, method, status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// PollCyclesTotal counts central poller cycles by connection kind and outcome.
	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_cycles_total",
			Help: "Total number of polling cycles run by the central poller",
		},
		[]string{"kind", "outcome"},
	)
	// ArtifactsDiscoveredTotal counts artifacts discovered per connection kind.
	ArtifactsDiscoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifacts_discovered_total",
			Help: "Total number of artifacts discovered by polling handlers",
		},
		[]string{"kind"},
	)
	// ArtifactsUpsertedTotal counts artifacts actually written by upsertIfNewer.
	ArtifactsUpsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifacts_upserted_total",
			Help: "Total number of artifacts written (insert or replace) to the staging store",
		},
		[]string{"kind"},
	)
	// ArtifactsIndexedTotal counts artifacts the continuous indexer finished.
	ArtifactsIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifacts_indexed_total",
			Help: "Total number of artifacts transitioned to INDEXED or FAILED",
		},
		[]string{"kind", "outcome"},
	)
	// ChunksWrittenTotal counts chunks written to the hybrid search store.
	ChunksWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunks_written_total",
			Help: "Total number of chunks written to the hybrid search store",
		},
		[]string{"collection"},
	)
	// LinkQualificationsTotal counts C4 qualifier outcomes.
	LinkQualificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_qualifications_total",
			Help: "Total number of URL safety classifications by outcome",
		},
		[]string{"classification"},
	)
	// TaskTransitionsTotal counts C9 task state transitions.
	TaskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_transitions_total",
			Help: "Total number of task state transitions",
		},
		[]string{"from", "to"},
	)
	// TaskQueueDepth is a gauge of queued tasks by processing mode.
	TaskQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "task_queue_depth",
			Help: "Number of tasks waiting for execution by processing mode",
		},
		[]string{"mode"},
	)
	// RateLimiterWaitSeconds records token-acquisition wait time per domain.
	RateLimiterWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limiter_wait_seconds",
			Help:    "Time spent waiting to acquire a rate limiter token",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"domain"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(PollCyclesTotal)
	prometheus.MustRegister(ArtifactsDiscoveredTotal)
	prometheus.MustRegister(ArtifactsUpsertedTotal)
	prometheus.MustRegister(ArtifactsIndexedTotal)
	prometheus.MustRegister(ChunksWrittenTotal)
	prometheus.MustRegister(LinkQualificationsTotal)
	prometheus.MustRegister(TaskTransitionsTotal)
	prometheus.MustRegister(TaskQueueDepth)
	prometheus.MustRegister(RateLimiterWaitSeconds)
}

// HTTPMetricsMiddleware records Prometheus metrics for each admin/health request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
