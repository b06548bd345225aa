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

const connectionsCollection = "connections"

var connectionsTracer = otel.Tracer("jervis/mongostore/connections")

// ConnectionRepo implements the C1 Connection Registry.
type ConnectionRepo struct {
	coll *mongo.Collection
}

// NewConnectionRepo constructs a ConnectionRepo bound to db.
func NewConnectionRepo(db *mongo.Database) *ConnectionRepo {
	return &ConnectionRepo{coll: db.Collection(connectionsCollection)}
}

func ensureConnectionIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(connectionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "enabled", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("op=mongostore.ensureConnectionIndexes: %w", err)
	}
	return nil
}

// Create inserts a new connection record, after running the
// go-playground/validator struct tags on the variant payload.
func (r *ConnectionRepo) Create(ctx domain.Context, c domain.Connection) (domain.ID, error) {
	ctx, span := connectionsTracer.Start(ctx, "connections.Create")
	defer span.End()

	if err := validateStruct(c); err != nil {
		return domain.ID{}, fmt.Errorf("op=connections.Create: %w", err)
	}

	c.ID = domain.NewID()
	c.State = domain.ConnectionPending
	c.Revision = 1
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		return domain.ID{}, fmt.Errorf("op=connections.Create: %w", err)
	}
	return c.ID, nil
}

// Update replaces a connection's editable fields, bumping its optimistic
// revision so the UI's single-writer assumption (§5) is cheaply verified.
func (r *ConnectionRepo) Update(ctx domain.Context, c domain.Connection) error {
	ctx, span := connectionsTracer.Start(ctx, "connections.Update")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", c.ID.Hex()))

	if err := validateStruct(c); err != nil {
		return fmt.Errorf("op=connections.Update: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": c.ID, "revision": c.Revision},
		bson.M{"$set": bson.M{
			"name": c.Name, "enabled": c.Enabled, "rateLimitConfig": c.RateLimitConfig,
			"http": c.Http, "mail": c.Mail, "oauth2": c.OAuth2,
			"updatedAt": now,
		}, "$inc": bson.M{"revision": 1}},
	)
	if err != nil {
		return fmt.Errorf("op=connections.Update: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("op=connections.Update: %w", domain.ErrConflict)
	}
	return nil
}

// FindByID returns the connection with the given id.
func (r *ConnectionRepo) FindByID(ctx domain.Context, id domain.ID) (domain.Connection, error) {
	ctx, span := connectionsTracer.Start(ctx, "connections.FindByID")
	defer span.End()

	var c domain.Connection
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return domain.Connection{}, fmt.Errorf("op=connections.FindByID: %w", domain.ErrNotFound)
		}
		return domain.Connection{}, fmt.Errorf("op=connections.FindByID: %w", err)
	}
	return c, nil
}

// FindByName returns the connection with the given unique name.
func (r *ConnectionRepo) FindByName(ctx domain.Context, name string) (domain.Connection, error) {
	ctx, span := connectionsTracer.Start(ctx, "connections.FindByName")
	defer span.End()

	var c domain.Connection
	if err := r.coll.FindOne(ctx, bson.M{"name": name}).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return domain.Connection{}, fmt.Errorf("op=connections.FindByName: %w", domain.ErrNotFound)
		}
		return domain.Connection{}, fmt.Errorf("op=connections.FindByName: %w", err)
	}
	return c, nil
}

// FindAllEnabled streams every enabled connection, regardless of state,
// for the central poller to filter by handler applicability (§4.6 step 1).
func (r *ConnectionRepo) FindAllEnabled(ctx domain.Context) ([]domain.Connection, error) {
	ctx, span := connectionsTracer.Start(ctx, "connections.FindAllEnabled")
	defer span.End()

	cur, err := r.coll.Find(ctx, bson.M{"enabled": true})
	if err != nil {
		return nil, fmt.Errorf("op=connections.FindAllEnabled: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.Connection
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("op=connections.FindAllEnabled: %w", err)
	}
	return out, nil
}

// MarkValid is the only path allowed to set state=VALID (§4.1), invoked
// exclusively by a successful testConnection probe.
func (r *ConnectionRepo) MarkValid(ctx domain.Context, id domain.ID) error {
	ctx, span := connectionsTracer.Start(ctx, "connections.MarkValid")
	defer span.End()

	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"state": domain.ConnectionValid, "invalidReason": "", "updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("op=connections.MarkValid: %w", err)
	}
	return nil
}

// MarkInvalid transitions a connection to INVALID on any 401/403 (§4.1,
// §7). The caller is responsible for creating the accompanying user task;
// this method only performs the registry-side state transition.
func (r *ConnectionRepo) MarkInvalid(ctx domain.Context, id domain.ID, reason string) error {
	ctx, span := connectionsTracer.Start(ctx, "connections.MarkInvalid")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", id.Hex()))

	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"state": domain.ConnectionInvalid, "invalidReason": reason, "updatedAt": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("op=connections.MarkInvalid: %w", err)
	}
	return nil
}
