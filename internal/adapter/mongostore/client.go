// Package mongostore implements the Connection Registry (C1), Staging
// Store (C5), Task store (C9), and Link Safety caches (C4) on top of
// MongoDB. The spec's "collection"/"opaque 12-byte id"/"upsertIfNewer"
// vocabulary maps directly onto Mongo's document model; see DESIGN.md.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jervisai/jervis/internal/config"
)

// Connect dials MongoDB and returns the configured database handle.
func Connect(ctx context.Context, cfg config.Config) (*mongo.Database, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURL))
	if err != nil {
		return nil, fmt.Errorf("op=mongostore.Connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("op=mongostore.Connect.ping: %w", err)
	}
	return client.Database(cfg.MongoDatabase), nil
}

// EnsureIndexes creates the indexes named in spec.md §4.5/§4.1/§3 on every
// collection this package owns. Safe to call repeatedly (idempotent).
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if err := ensureConnectionIndexes(ctx, db); err != nil {
		return err
	}
	if err := ensureClientIndexes(ctx, db); err != nil {
		return err
	}
	if err := ensureProjectIndexes(ctx, db); err != nil {
		return err
	}
	if err := ensureStagingIndexes(ctx, db); err != nil {
		return err
	}
	if err := ensureTaskIndexes(ctx, db); err != nil {
		return err
	}
	if err := ensureLinkSafetyIndexes(ctx, db); err != nil {
		return err
	}
	return nil
}
