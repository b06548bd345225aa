package app

import (
	"context"
	"encoding/json"
	mrand "math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jervisai/jervis/internal/adapter/observability"
	"github.com/jervisai/jervis/internal/config"
	"github.com/jervisai/jervis/internal/domain"
)

// ConnectionFinder resolves a connection by its hex ID, for the admin
// test-connection route. Implemented by mongostore.ConnectionRepo.
type ConnectionFinder interface {
	FindByID(ctx context.Context, id domain.ID) (domain.Connection, error)
}

// ConnectionProber performs C1's testConnection probe (§4.1) and
// transitions the connection's registry state. Implemented by
// connprobe.Service.
type ConnectionProber interface {
	Test(ctx context.Context, c domain.Connection) (bool, string, error)
}

// ParseOrigins splits a comma-separated CORS origin list, trimming
// spaces. An empty or "*" input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the process's admin/health HTTP surface. Jervis
// has no public API of its own — the planner boundary (§6) is a client
// relationship the orchestrator package drives outbound — so this
// surface only carries liveness/readiness probes, Prometheus metrics,
// and a minimal authenticated status endpoint.
func BuildRouter(cfg config.Config, checks map[string]func(ctx context.Context) error, connections ConnectionFinder, prober ConnectionProber) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		wr.Get("/healthz", healthzHandler())
		wr.Get("/readyz", readyzHandler(checks))
	})
	r.Handle("/metrics", promhttp.Handler())

	if cfg.AdminEnabled() {
		r.Group(func(wr chi.Router) {
			wr.Use(middleware.BasicAuth("jervis-admin", map[string]string{cfg.AdminUsername: cfg.AdminPassword}))
			wr.Get("/admin/status", readyzHandler(checks))
			wr.Post("/admin/connections/{id}/test", testConnectionHandler(connections, prober))
		})
	}

	return r
}

// ulidEntropy backs requestIDMiddleware's id generation; monotonic so ids
// sort by arrival order within a process.
var ulidEntropy = ulid.Monotonic(mrand.New(mrand.NewSource(time.Now().UnixNano())), 0)

// requestIDMiddleware stamps each request with a ULID, lexically sortable
// by time unlike chi's default counter-based id, and echoes it back on the
// response so a caller can correlate logs without reading the body.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := ulid.New(ulid.Timestamp(time.Now()), ulidEntropy)
		reqID := ""
		if err != nil {
			reqID = time.Now().UTC().Format("20060102150405.000000000")
		} else {
			reqID = id.String()
		}
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, reqID)
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// testConnectionHandler exposes C1's testConnection operation (§4.1) as an
// admin-gated endpoint: the only path allowed to flip a connection back to
// VALID after an auth failure took it INVALID.
func testConnectionHandler(connections ConnectionFinder, prober ConnectionProber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "id")
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			http.Error(w, "invalid connection id", http.StatusBadRequest)
			return
		}
		c, err := connections.FindByID(r.Context(), id)
		if err != nil {
			http.Error(w, "connection not found", http.StatusNotFound)
			return
		}
		ok, reason, err := prober.Test(r.Context(), c)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"valid": ok, "reason": reason})
	}
}

// healthzHandler is a pure liveness probe: if the process can answer
// HTTP at all, it is alive. Dependency health is readyz's job.
func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// readyzHandler runs every registered dependency check concurrently with
// a 2s per-check budget, and reports 503 if any failed.
func readyzHandler(checks map[string]func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		type result struct {
			name string
			err  error
		}
		results := make(chan result, len(checks))
		for name, check := range checks {
			name, check := name, check
			go func() { results <- result{name: name, err: check(ctx)} }()
		}

		status := map[string]string{}
		ok := true
		for range checks {
			res := <-results
			if res.err != nil {
				status[res.name] = res.err.Error()
				ok = false
				continue
			}
			status[res.name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
