package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

const projectsCollection = "projects"

var projectsTracer = otel.Tracer("jervis/mongostore/projects")

func ensureProjectIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(projectsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "connectionIds", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("op=mongostore.ensureProjectIndexes: %w", err)
	}
	return nil
}

// ProjectRepo resolves project-level scope, whose filters override the
// owning client's (§3 "Project-level filter overrides client-level").
type ProjectRepo struct {
	coll *mongo.Collection
}

// NewProjectRepo constructs a ProjectRepo bound to db.
func NewProjectRepo(db *mongo.Database) *ProjectRepo {
	return &ProjectRepo{coll: db.Collection(projectsCollection)}
}

// Create inserts a new project.
func (r *ProjectRepo) Create(ctx domain.Context, p domain.Project) (domain.ID, error) {
	ctx, span := projectsTracer.Start(ctx, "projects.Create")
	defer span.End()

	if err := validateStruct(p); err != nil {
		return domain.ID{}, fmt.Errorf("op=projects.Create: %w", err)
	}

	p.ID = domain.NewID()
	if _, err := r.coll.InsertOne(ctx, p); err != nil {
		return domain.ID{}, fmt.Errorf("op=projects.Create: %w", err)
	}
	return p.ID, nil
}

// FindByConnectionID returns every project that references connectionID
// directly or via a ConnectionFilter entry.
func (r *ProjectRepo) FindByConnectionID(ctx domain.Context, connectionID domain.ID) ([]domain.Project, error) {
	ctx, span := projectsTracer.Start(ctx, "projects.FindByConnectionID")
	defer span.End()

	cur, err := r.coll.Find(ctx, bson.M{"$or": bson.A{
		bson.M{"connectionIds": connectionID},
		bson.M{"filters.connectionId": connectionID},
	}})
	if err != nil {
		return nil, fmt.Errorf("op=projects.FindByConnectionID: %w", err)
	}
	defer cur.Close(ctx)
	var out []domain.Project
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("op=projects.FindByConnectionID: %w", err)
	}
	return out, nil
}

// FindByClientID returns every project under clientID, used to resolve
// project-level filter overrides for a client already known to
// reference a connection.
func (r *ProjectRepo) FindByClientID(ctx domain.Context, clientID domain.ID) ([]domain.Project, error) {
	ctx, span := projectsTracer.Start(ctx, "projects.FindByClientID")
	defer span.End()

	cur, err := r.coll.Find(ctx, bson.M{"clientId": clientID})
	if err != nil {
		return nil, fmt.Errorf("op=projects.FindByClientID: %w", err)
	}
	defer cur.Close(ctx)
	var out []domain.Project
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("op=projects.FindByClientID: %w", err)
	}
	return out, nil
}
