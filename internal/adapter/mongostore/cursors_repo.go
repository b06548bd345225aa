package mongostore

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

const cursorsCollection = "polling_cursors"

var cursorsTracer = otel.Tracer("jervis/mongostore/cursors")

// CursorRepo implements the per-connection incremental-sync markers of
// §3/§4.6, one document per (connectionId, kind) pair.
type CursorRepo struct {
	coll *mongo.Collection
}

// NewCursorRepo constructs a CursorRepo bound to db.
func NewCursorRepo(db *mongo.Database) *CursorRepo {
	return &CursorRepo{coll: db.Collection(cursorsCollection)}
}

// Get returns the cursor for (connectionID, kind, scopeKey), or the zero
// value with ok=false if polling has never run for that triple. scopeKey
// distinguishes multiple project keys/spaces/repos filtered through one
// shared connection.
func (r *CursorRepo) Get(ctx domain.Context, connectionID domain.ID, kind domain.ArtifactKind, scopeKey string) (domain.PollingCursor, bool, error) {
	ctx, span := cursorsTracer.Start(ctx, "cursors.Get")
	defer span.End()

	var c domain.PollingCursor
	err := r.coll.FindOne(ctx, bson.M{"connectionId": connectionID, "kind": kind, "scopeKey": scopeKey}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return domain.PollingCursor{}, false, nil
	}
	if err != nil {
		return domain.PollingCursor{}, false, fmt.Errorf("op=cursors.Get: %w", err)
	}
	return c, true, nil
}

// Upsert stores the advanced cursor. Callers write it only after a
// successful poll cycle completes (§4.6 step 5: "advance the cursor only
// once every discovered item has been upserted into staging").
func (r *CursorRepo) Upsert(ctx domain.Context, c domain.PollingCursor) error {
	ctx, span := cursorsTracer.Start(ctx, "cursors.Upsert")
	defer span.End()

	c.UpdatedAt = time.Now().UTC()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"connectionId": c.ConnectionID, "kind": c.Kind, "scopeKey": c.ScopeKey},
		bson.M{"$set": c},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("op=cursors.Upsert: %w", err)
	}
	return nil
}
