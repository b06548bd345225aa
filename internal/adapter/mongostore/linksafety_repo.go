package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

const (
	unsafeLinksCollection     = "unsafe_links"
	learnedPatternsCollection = "learned_patterns"
	indexedLinksCollection    = "indexed_links"
)

var linkSafetyTracer = otel.Tracer("jervis/mongostore/linksafety")

func ensureLinkSafetyIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(indexedLinksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "url", Value: 1}, {Key: "clientId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("op=mongostore.ensureLinkSafetyIndexes.indexedLinks: %w", err)
	}
	if _, err := db.Collection(learnedPatternsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "enabled", Value: 1}},
	}); err != nil {
		return fmt.Errorf("op=mongostore.ensureLinkSafetyIndexes.learnedPatterns: %w", err)
	}
	return nil
}

// LinkSafetyRepo implements the C4 qualifier's three caches: negative
// classifications, learned patterns promoted from reason strings, and
// per-client dedup of already-scraped URLs (§3, §4.4).
type LinkSafetyRepo struct {
	unsafe   *mongo.Collection
	patterns *mongo.Collection
	indexed  *mongo.Collection
}

// NewLinkSafetyRepo constructs a LinkSafetyRepo bound to db.
func NewLinkSafetyRepo(db *mongo.Database) *LinkSafetyRepo {
	return &LinkSafetyRepo{
		unsafe:   db.Collection(unsafeLinksCollection),
		patterns: db.Collection(learnedPatternsCollection),
		indexed:  db.Collection(indexedLinksCollection),
	}
}

// IsUnsafe reports whether url has a cached UNSAFE classification (§4.4
// step 1: the cache check that short-circuits the evaluation order).
func (r *LinkSafetyRepo) IsUnsafe(ctx domain.Context, url string) (domain.UnsafeLink, bool, error) {
	ctx, span := linkSafetyTracer.Start(ctx, "linksafety.IsUnsafe")
	defer span.End()

	var u domain.UnsafeLink
	err := r.unsafe.FindOne(ctx, bson.M{"_id": url}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return domain.UnsafeLink{}, false, nil
	}
	if err != nil {
		return domain.UnsafeLink{}, false, fmt.Errorf("op=linksafety.IsUnsafe: %w", err)
	}
	return u, true, nil
}

// MarkUnsafe caches a negative classification so future evaluations of the
// same URL short-circuit without re-running the full evaluation order.
func (r *LinkSafetyRepo) MarkUnsafe(ctx domain.Context, url, reason string) error {
	ctx, span := linkSafetyTracer.Start(ctx, "linksafety.MarkUnsafe")
	defer span.End()

	_, err := r.unsafe.ReplaceOne(ctx, bson.M{"_id": url},
		domain.UnsafeLink{URL: url, Reason: reason, CreatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("op=linksafety.MarkUnsafe: %w", err)
	}
	return nil
}

// EnabledPatterns returns every learned pattern currently promoted for
// matching (§4.4 step 3: "prior reason strings compiled into regexes").
func (r *LinkSafetyRepo) EnabledPatterns(ctx domain.Context) ([]domain.LearnedPattern, error) {
	ctx, span := linkSafetyTracer.Start(ctx, "linksafety.EnabledPatterns")
	defer span.End()

	cur, err := r.patterns.Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, fmt.Errorf("op=linksafety.EnabledPatterns: %w", err)
	}
	defer cur.Close(ctx)
	var out []domain.LearnedPattern
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("op=linksafety.EnabledPatterns: %w", err)
	}
	return out, nil
}

// LearnPattern inserts pattern as a new enabled learned pattern with the
// given reason. Every call inserts a document; an identical stored
// pattern is not looked for first.
func (r *LinkSafetyRepo) LearnPattern(ctx domain.Context, pattern, reason string) error {
	ctx, span := linkSafetyTracer.Start(ctx, "linksafety.LearnPattern")
	defer span.End()

	p := domain.LearnedPattern{ID: domain.NewID(), Pattern: pattern, Reason: reason, Enabled: true, CreatedAt: time.Now().UTC()}
	if _, err := r.patterns.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("op=linksafety.LearnPattern: %w", err)
	}
	return nil
}

// IsIndexed reports whether url was already scraped for clientID (§4.4
// step 8 dedup).
func (r *LinkSafetyRepo) IsIndexed(ctx domain.Context, url string, clientID domain.ID) (bool, error) {
	ctx, span := linkSafetyTracer.Start(ctx, "linksafety.IsIndexed")
	defer span.End()

	err := r.indexed.FindOne(ctx, bson.M{"url": url, "clientId": clientID}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("op=linksafety.IsIndexed: %w", err)
	}
	return true, nil
}

// MarkIndexed records url as scraped for clientID, idempotently.
func (r *LinkSafetyRepo) MarkIndexed(ctx domain.Context, url string, clientID domain.ID) error {
	ctx, span := linkSafetyTracer.Start(ctx, "linksafety.MarkIndexed")
	defer span.End()

	_, err := r.indexed.UpdateOne(ctx,
		bson.M{"url": url, "clientId": clientID},
		bson.M{"$setOnInsert": domain.IndexedLink{URL: url, ClientID: clientID, IndexedAt: time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("op=linksafety.MarkIndexed: %w", err)
	}
	return nil
}
