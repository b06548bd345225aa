package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

const clientsCollection = "clients"

var clientsTracer = otel.Tracer("jervis/mongostore/clients")

func ensureClientIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(clientsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "connectionIds", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("op=mongostore.ensureClientIndexes: %w", err)
	}
	return nil
}

// ClientRepo implements the Client/Project tenant-scope lookups the
// central poller needs to resolve "which clients reference this
// connection" (§4.6 step 2).
type ClientRepo struct {
	coll *mongo.Collection
}

// NewClientRepo constructs a ClientRepo bound to db.
func NewClientRepo(db *mongo.Database) *ClientRepo {
	return &ClientRepo{coll: db.Collection(clientsCollection)}
}

// Create inserts a new client.
func (r *ClientRepo) Create(ctx domain.Context, c domain.Client) (domain.ID, error) {
	ctx, span := clientsTracer.Start(ctx, "clients.Create")
	defer span.End()

	if err := validateStruct(c); err != nil {
		return domain.ID{}, fmt.Errorf("op=clients.Create: %w", err)
	}

	c.ID = domain.NewID()
	if _, err := r.coll.InsertOne(ctx, c); err != nil {
		return domain.ID{}, fmt.Errorf("op=clients.Create: %w", err)
	}
	return c.ID, nil
}

// FindByConnectionID returns every client that references connectionID,
// directly or via a ConnectionFilter entry (§4.6 step 2: "find clients
// referencing it; if none, skip").
func (r *ClientRepo) FindByConnectionID(ctx domain.Context, connectionID domain.ID) ([]domain.Client, error) {
	ctx, span := clientsTracer.Start(ctx, "clients.FindByConnectionID")
	defer span.End()

	cur, err := r.coll.Find(ctx, bson.M{"$or": bson.A{
		bson.M{"connectionIds": connectionID},
		bson.M{"filters.connectionId": connectionID},
	}})
	if err != nil {
		return nil, fmt.Errorf("op=clients.FindByConnectionID: %w", err)
	}
	defer cur.Close(ctx)
	var out []domain.Client
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("op=clients.FindByConnectionID: %w", err)
	}
	return out, nil
}
