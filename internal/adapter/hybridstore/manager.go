// Package hybridstore implements the C11 Hybrid Search Schema Manager
// and the write path the continuous indexer (C8) targets: a hand-rolled
// client against a Weaviate-shaped vector+BM25 store, grounded on the
// teacher's own hand-rolled qdrant client (no Weaviate SDK appears
// anywhere in the retrieved pack).
package hybridstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jervisai/jervis/internal/config"
	"github.com/jervisai/jervis/internal/domain"
)

// Manager provisions and migrates the SemanticText/SemanticCode
// collections on startup (§4.11).
type Manager struct {
	rest              *restClient
	autoMigrate       bool
	migrateCountdown  time.Duration
	desired           []classSchema
}

// NewManager constructs a Manager from cfg.
func NewManager(cfg config.Config) *Manager {
	return &Manager{
		rest:             newRESTClient(cfg.WeaviateURL, cfg.WeaviateAPIKey),
		autoMigrate:      cfg.WeaviateAutoMigrate,
		migrateCountdown: cfg.WeaviateMigrateCountdown,
		desired:          desiredSchemas(cfg),
	}
}

// EnsureSchemas runs the three-step startup provisioning algorithm
// (§4.11): compute desired schema (done at construction), compare
// against the store's current schema, and either migrate, additively
// patch, or create each collection.
func (m *Manager) EnsureSchemas(ctx domain.Context) error {
	for _, desired := range m.desired {
		if err := m.ensureOne(ctx, desired); err != nil {
			return fmt.Errorf("op=hybridstore.EnsureSchemas class=%s: %w", desired.Class, err)
		}
	}
	return nil
}

func (m *Manager) ensureOne(ctx domain.Context, desired classSchema) error {
	current, exists, err := m.rest.getClass(ctx, desired.Class)
	if err != nil {
		return fmt.Errorf("op=hybridstore.ensureOne.getClass: %w", err)
	}
	if !exists {
		slog.Info("hybridstore creating missing collection", slog.String("class", desired.Class))
		return m.rest.createClass(ctx, desired)
	}

	if incompatible(desired, current) {
		if !m.autoMigrate {
			return fmt.Errorf("op=hybridstore.ensureOne: collection %s schema is incompatible (distance/dimensions/HNSW mismatch) and auto-migrate is disabled", desired.Class)
		}
		return m.migrate(ctx, desired)
	}

	for _, p := range missingProperties(desired, current) {
		slog.Info("hybridstore adding missing property", slog.String("class", desired.Class), slog.String("property", p.Name))
		if err := m.rest.addProperty(ctx, desired.Class, p); err != nil {
			return fmt.Errorf("op=hybridstore.ensureOne.addProperty: %w", err)
		}
	}
	return nil
}

// migrate drops and recreates a collection after a configurable
// countdown, giving an operator watching startup logs a window to abort
// before data loss (§4.11 step 2 "opportunity to abort").
func (m *Manager) migrate(ctx domain.Context, desired classSchema) error {
	slog.Warn("hybridstore migrating incompatible collection, all existing vectors will be lost",
		slog.String("class", desired.Class), slog.Duration("countdown", m.migrateCountdown))

	select {
	case <-ctx.Done():
		return fmt.Errorf("op=hybridstore.migrate: %w", ctx.Err())
	case <-time.After(m.migrateCountdown):
	}

	if err := m.rest.dropClass(ctx, desired.Class); err != nil {
		return fmt.Errorf("op=hybridstore.migrate.drop: %w", err)
	}
	return m.rest.createClass(ctx, desired)
}
