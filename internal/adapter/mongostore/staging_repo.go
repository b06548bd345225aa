package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jervisai/jervis/internal/domain"
)

var stagingTracer = otel.Tracer("jervis/mongostore/staging")

var allArtifactKinds = []domain.ArtifactKind{
	domain.ArtifactIssueTrackerItem,
	domain.ArtifactWikiPage,
	domain.ArtifactEmailMessage,
	domain.ArtifactGitCommit,
}

func ensureStagingIndexes(ctx context.Context, db *mongo.Database) error {
	for _, kind := range allArtifactKinds {
		_, err := db.Collection(string(kind)).Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "connectionId", Value: 1}, {Key: "sourceKey", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "state", Value: 1}}},
			{Keys: bson.D{{Key: "clientId", Value: 1}}},
			{Keys: bson.D{{Key: "projectId", Value: 1}}},
			{Keys: bson.D{{Key: "externalUpdatedAt", Value: 1}}},
		})
		if err != nil {
			return fmt.Errorf("op=mongostore.ensureStagingIndexes kind=%s: %w", kind, err)
		}
	}
	return nil
}

// StagingRepo implements the per-source staging collections of C5. One
// instance is bound to a single ArtifactKind, matching "one collection
// per source type" in §4.5.
type StagingRepo struct {
	kind domain.ArtifactKind
	coll *mongo.Collection
}

// NewStagingRepo constructs a StagingRepo for the given artifact kind.
func NewStagingRepo(db *mongo.Database, kind domain.ArtifactKind) *StagingRepo {
	return &StagingRepo{kind: kind, coll: db.Collection(string(kind))}
}

// UpsertIfNewer implements §4.5's core operation: insert if
// (connectionId, sourceKey) is absent; if present and the incoming
// externalUpdatedAt is strictly newer, replace the payload and reset
// state=NEW; otherwise (same or older) leave the stored row untouched.
// Returns true if a write occurred.
func (r *StagingRepo) UpsertIfNewer(ctx domain.Context, a domain.Artifact) (bool, error) {
	ctx, span := stagingTracer.Start(ctx, "staging.UpsertIfNewer")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.kind", string(r.kind)), attribute.String("artifact.sourceKey", a.SourceKey))

	var existing domain.Artifact
	err := r.coll.FindOne(ctx, bson.M{"connectionId": a.ConnectionID, "sourceKey": a.SourceKey}).Decode(&existing)
	switch {
	case err == mongo.ErrNoDocuments:
		a.ID = domain.NewID()
		a.CreatedAt = time.Now().UTC()
		a.State = domain.ArtifactNew
		if _, err := r.coll.InsertOne(ctx, a); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				// Lost a concurrent insert race; treat as no-op, matching
				// the idempotent-reingest property (§8 property 1).
				return false, nil
			}
			return false, fmt.Errorf("op=staging.UpsertIfNewer.insert: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("op=staging.UpsertIfNewer.find: %w", err)
	}

	if !a.ExternalUpdatedAt.After(existing.ExternalUpdatedAt) {
		return false, nil
	}

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": existing.ID, "externalUpdatedAt": existing.ExternalUpdatedAt},
		bson.M{"$set": bson.M{
			"fullContent":       a.FullContent,
			"externalUpdatedAt": a.ExternalUpdatedAt,
			"state":             domain.ArtifactNew,
			"lastIndexedAt":     nil,
			"indexingError":     "",
		}},
	)
	if err != nil {
		return false, fmt.Errorf("op=staging.UpsertIfNewer.replace: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// FindNew streams artifacts in state NEW ordered by externalUpdatedAt
// ascending, so old backlog is processed fairly (§4.5, §4.8 step 1).
func (r *StagingRepo) FindNew(ctx domain.Context, limit int64) ([]domain.Artifact, error) {
	ctx, span := stagingTracer.Start(ctx, "staging.FindNew")
	defer span.End()

	opts := options.Find().SetSort(bson.D{{Key: "externalUpdatedAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.coll.Find(ctx, bson.M{"state": domain.ArtifactNew}, opts)
	if err != nil {
		return nil, fmt.Errorf("op=staging.FindNew: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Artifact
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("op=staging.FindNew: %w", err)
	}
	for i := range out {
		out[i].Kind = r.kind
	}
	return out, nil
}

// ClaimForIndexing atomically transitions one artifact NEW -> INDEXING.
// Returns ok=false if another worker won the race (§4.8 step 2, §8
// "claim race" boundary behavior).
func (r *StagingRepo) ClaimForIndexing(ctx domain.Context, id domain.ID) (bool, error) {
	ctx, span := stagingTracer.Start(ctx, "staging.ClaimForIndexing")
	defer span.End()

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "state": domain.ArtifactNew},
		bson.M{"$set": bson.M{"state": domain.ArtifactIndexing}},
	)
	if err != nil {
		return false, fmt.Errorf("op=staging.ClaimForIndexing: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// MarkIndexed records a successful indexing run (§4.8 step 5).
func (r *StagingRepo) MarkIndexed(ctx domain.Context, id domain.ID, stats domain.ChunkStats) error {
	ctx, span := stagingTracer.Start(ctx, "staging.MarkIndexed")
	defer span.End()

	now := time.Now().UTC()
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"state": domain.ArtifactIndexed, "lastIndexedAt": now, "stats": stats, "indexingError": "",
	}})
	if err != nil {
		return fmt.Errorf("op=staging.MarkIndexed: %w", err)
	}
	return nil
}

// MarkFailed records a failed indexing run; the spec mandates no
// automatic retry (§4.8 step 5), so callers must not re-attempt.
func (r *StagingRepo) MarkFailed(ctx domain.Context, id domain.ID, reason string) error {
	ctx, span := stagingTracer.Start(ctx, "staging.MarkFailed")
	defer span.End()

	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"state": domain.ArtifactFailed, "indexingError": reason,
	}})
	if err != nil {
		return fmt.Errorf("op=staging.MarkFailed: %w", err)
	}
	return nil
}
