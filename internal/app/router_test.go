package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jervisai/jervis/internal/config"
	"github.com/jervisai/jervis/internal/domain"
)

func TestParseOriginsDefaultsToWildcard(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
}

func TestParseOriginsSplitsAndTrims(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, ParseOrigins(" https://a.example , https://b.example "))
}

func TestBuildRouterHealthzAlwaysOK(t *testing.T) {
	r := BuildRouter(config.Config{RateLimitPerMin: 60}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRouterReadyzReflectsCheckFailure(t *testing.T) {
	checks := map[string]func(ctx context.Context) error{
		"broken": func(ctx context.Context) error { return errors.New("down") },
	}
	r := BuildRouter(config.Config{RateLimitPerMin: 60}, checks, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildRouterReadyzOKWhenAllChecksPass(t *testing.T) {
	checks := map[string]func(ctx context.Context) error{
		"ok": func(ctx context.Context) error { return nil },
	}
	r := BuildRouter(config.Config{RateLimitPerMin: 60}, checks, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRouterExposesPrometheusMetrics(t *testing.T) {
	r := BuildRouter(config.Config{RateLimitPerMin: 60}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeConnectionFinder struct {
	conn domain.Connection
	err  error
}

func (f *fakeConnectionFinder) FindByID(ctx context.Context, id domain.ID) (domain.Connection, error) {
	return f.conn, f.err
}

type fakeProber struct {
	ok     bool
	reason string
}

func (f *fakeProber) Test(ctx context.Context, c domain.Connection) (bool, string, error) {
	return f.ok, f.reason, nil
}

func TestBuildRouterAdminTestConnectionRequiresAuth(t *testing.T) {
	cfg := config.Config{RateLimitPerMin: 60, AdminUsername: "admin", AdminPassword: "secret"}
	r := BuildRouter(cfg, nil, &fakeConnectionFinder{conn: domain.Connection{ID: domain.NewID()}}, &fakeProber{ok: true})
	req := httptest.NewRequest(http.MethodPost, "/admin/connections/"+domain.NewID().Hex()+"/test", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildRouterAdminTestConnectionReportsVerdict(t *testing.T) {
	cfg := config.Config{RateLimitPerMin: 60, AdminUsername: "admin", AdminPassword: "secret"}
	r := BuildRouter(cfg, nil, &fakeConnectionFinder{conn: domain.Connection{ID: domain.NewID()}}, &fakeProber{ok: false, reason: "probe returned status 401"})
	req := httptest.NewRequest(http.MethodPost, "/admin/connections/"+domain.NewID().Hex()+"/test", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "probe returned status 401")
}
