// Package postgres holds the connection pool backing the rate limiter's
// Postgres mirror (§4.9/§7): Redis owns the hot token-bucket path, this
// pool is where WarmFromPostgres reads state back after a restart and
// where the mirror writes bucket state after each token acquisition.
package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewMirrorPool opens a pgx pool against the rate-limit mirror DSN, sized
// small since the mirror is a low-frequency background writer rather
// than a request-path dependency.
func NewMirrorPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := otelpgx.RecordStats(pool); err != nil {
		slog.Warn("failed to record pgx stats", slog.Any("error", err))
	}
	return pool, nil
}
