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
	tasksCollection      = "tasks"
	taskMemoryCollection = "task_memory"
)

var tasksTracer = otel.Tracer("jervis/mongostore/tasks")

func ensureTaskIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(tasksCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "state", Value: 1}}},
		{Keys: bson.D{{Key: "processingMode", Value: 1}, {Key: "queuePosition", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("op=mongostore.ensureTaskIndexes: %w", err)
	}
	return nil
}

// TaskRepo implements the C9 Task store's data-access surface: create,
// atomic claims keyed on expected state, and stale recovery.
type TaskRepo struct {
	coll   *mongo.Collection
	memory *mongo.Collection
}

// NewTaskRepo constructs a TaskRepo bound to db.
func NewTaskRepo(db *mongo.Database) *TaskRepo {
	return &TaskRepo{coll: db.Collection(tasksCollection), memory: db.Collection(taskMemoryCollection)}
}

// Create inserts a new task in READY_FOR_QUALIFICATION.
func (r *TaskRepo) Create(ctx domain.Context, t domain.Task) (domain.ID, error) {
	ctx, span := tasksTracer.Start(ctx, "tasks.Create")
	defer span.End()

	t.ID = domain.NewID()
	t.State = domain.TaskReadyForQualification
	t.CreatedAt = time.Now().UTC()
	if _, err := r.coll.InsertOne(ctx, t); err != nil {
		return domain.ID{}, fmt.Errorf("op=tasks.Create: %w", err)
	}
	return t.ID, nil
}

// CreateUserTask inserts a task that starts life already in USER_TASK,
// bypassing qualification/execution entirely. Used for operator-facing
// alerts raised outside the normal ingestion pipeline, such as the
// connection re-authentication task §4.1/§7 requires on a 401/403.
func (r *TaskRepo) CreateUserTask(ctx domain.Context, t domain.Task) (domain.ID, error) {
	ctx, span := tasksTracer.Start(ctx, "tasks.CreateUserTask")
	defer span.End()

	t.ID = domain.NewID()
	t.State = domain.TaskUserTask
	t.CreatedAt = time.Now().UTC()
	if _, err := r.coll.InsertOne(ctx, t); err != nil {
		return domain.ID{}, fmt.Errorf("op=tasks.CreateUserTask: %w", err)
	}
	return t.ID, nil
}

// EligibleForQualification streams tasks ready to be picked up by the
// qualification loop: READY_FOR_QUALIFICATION with no backoff pending or
// an elapsed backoff (§4.9).
func (r *TaskRepo) EligibleForQualification(ctx domain.Context, limit int64) ([]domain.Task, error) {
	ctx, span := tasksTracer.Start(ctx, "tasks.EligibleForQualification")
	defer span.End()

	now := time.Now().UTC()
	filter := bson.M{
		"state": domain.TaskReadyForQualification,
		"$or": []bson.M{
			{"nextQualificationRetryAt": nil},
			{"nextQualificationRetryAt": bson.M{"$lte": now}},
		},
	}
	cur, err := r.coll.Find(ctx, filter, options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("op=tasks.EligibleForQualification: %w", err)
	}
	defer cur.Close(ctx)
	var out []domain.Task
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("op=tasks.EligibleForQualification: %w", err)
	}
	return out, nil
}

// ClaimForQualification atomically transitions one task
// READY_FOR_QUALIFICATION -> QUALIFYING. Returns ok=false if another
// worker already claimed it (§4.9 "claims use a single atomic
// find-and-modify").
func (r *TaskRepo) ClaimForQualification(ctx domain.Context, id domain.ID) (domain.Task, bool, error) {
	return r.casClaim(ctx, id, domain.TaskReadyForQualification, domain.TaskQualifying)
}

// ClaimNextForeground claims the next FOREGROUND task ordered by
// queuePosition (§4.9 execution loop, §5 ordering guarantees).
func (r *TaskRepo) ClaimNextForeground(ctx domain.Context) (domain.Task, bool, error) {
	return r.claimNextFromQueue(ctx, domain.ModeForeground, bson.D{{Key: "queuePosition", Value: 1}, {Key: "createdAt", Value: 1}})
}

// ClaimNextBackground claims the next BACKGROUND task ordered by
// createdAt (FIFO, §5).
func (r *TaskRepo) ClaimNextBackground(ctx domain.Context) (domain.Task, bool, error) {
	return r.claimNextFromQueue(ctx, domain.ModeBackground, bson.D{{Key: "createdAt", Value: 1}})
}

func (r *TaskRepo) claimNextFromQueue(ctx domain.Context, mode domain.ProcessingMode, sort bson.D) (domain.Task, bool, error) {
	ctx, span := tasksTracer.Start(ctx, "tasks.claimNextFromQueue")
	defer span.End()

	var candidate domain.Task
	err := r.coll.FindOne(ctx,
		bson.M{"state": domain.TaskReadyForGPU, "processingMode": mode},
		options.FindOne().SetSort(sort),
	).Decode(&candidate)
	if err == mongo.ErrNoDocuments {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("op=tasks.claimNextFromQueue.find: %w", err)
	}
	return r.casClaim(ctx, candidate.ID, domain.TaskReadyForGPU, domain.TaskDispatchedGPU)
}

// casClaim performs the atomic compare-and-set state transition every
// claim in the engine is built from.
func (r *TaskRepo) casClaim(ctx domain.Context, id domain.ID, from, to domain.TaskState) (domain.Task, bool, error) {
	var out domain.Task
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "state": from},
		bson.M{"$set": bson.M{"state": to}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("op=tasks.casClaim: %w", err)
	}
	return out, true, nil
}

// UpdateState performs a plain (non-CAS) state write for transitions the
// owning loop already holds exclusively, e.g. QUALIFYING -> DONE.
func (r *TaskRepo) UpdateState(ctx domain.Context, id domain.ID, state domain.TaskState, fields bson.M) error {
	ctx, span := tasksTracer.Start(ctx, "tasks.UpdateState")
	defer span.End()

	set := bson.M{"state": state}
	for k, v := range fields {
		set[k] = v
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("op=tasks.UpdateState: %w", err)
	}
	return nil
}

// RecordQualificationRetry increments qualificationRetries and schedules
// the next attempt (§4.9: unbounded retries for transient failures).
func (r *TaskRepo) RecordQualificationRetry(ctx domain.Context, id domain.ID, nextRetryAt time.Time) error {
	ctx, span := tasksTracer.Start(ctx, "tasks.RecordQualificationRetry")
	defer span.End()

	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"qualificationRetries": 1},
		"$set": bson.M{"state": domain.TaskReadyForQualification, "nextQualificationRetryAt": nextRetryAt},
	})
	if err != nil {
		return fmt.Errorf("op=tasks.RecordQualificationRetry: %w", err)
	}
	return nil
}

// DeleteIfNot deletes a background task unless it is in the given state
// (used on background completion: delete unless it became a USER_TASK,
// §4.9).
func (r *TaskRepo) DeleteIfNot(ctx domain.Context, id domain.ID, notState domain.TaskState) error {
	ctx, span := tasksTracer.Start(ctx, "tasks.DeleteIfNot")
	defer span.End()

	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "state": bson.M{"$ne": notState}})
	if err != nil {
		return fmt.Errorf("op=tasks.DeleteIfNot: %w", err)
	}
	return nil
}

// PythonOrchestratingTasks streams every task currently dispatched to the
// planner, for the orchestrator poll loop (§4.9).
func (r *TaskRepo) PythonOrchestratingTasks(ctx domain.Context) ([]domain.Task, error) {
	ctx, span := tasksTracer.Start(ctx, "tasks.PythonOrchestratingTasks")
	defer span.End()

	cur, err := r.coll.Find(ctx, bson.M{"state": domain.TaskPythonOrchestrating})
	if err != nil {
		return nil, fmt.Errorf("op=tasks.PythonOrchestratingTasks: %w", err)
	}
	defer cur.Close(ctx)
	var out []domain.Task
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("op=tasks.PythonOrchestratingTasks: %w", err)
	}
	return out, nil
}

// RecoverStale rewinds tasks stuck past threshold on process start-up
// (§4.9 "Stale recovery on start-up"):
//   - DISPATCHED_GPU (BACKGROUND only) -> READY_FOR_GPU
//   - QUALIFYING -> READY_FOR_QUALIFICATION
//   - PYTHON_ORCHESTRATING -> READY_FOR_GPU, clearing orchestratorThreadId
//
// FOREGROUND DISPATCHED_GPU tasks are left untouched (preserved as
// completed chat turns). Returns the number of tasks rewound per state.
func (r *TaskRepo) RecoverStale(ctx domain.Context, threshold time.Duration) (map[domain.TaskState]int64, error) {
	ctx, span := tasksTracer.Start(ctx, "tasks.RecoverStale")
	defer span.End()

	cutoff := time.Now().UTC().Add(-threshold)
	out := map[domain.TaskState]int64{}

	res, err := r.coll.UpdateMany(ctx,
		bson.M{"state": domain.TaskDispatchedGPU, "processingMode": domain.ModeBackground, "createdAt": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"state": domain.TaskReadyForGPU}},
	)
	if err != nil {
		return nil, fmt.Errorf("op=tasks.RecoverStale.dispatched: %w", err)
	}
	out[domain.TaskDispatchedGPU] = res.ModifiedCount

	res, err = r.coll.UpdateMany(ctx,
		bson.M{"state": domain.TaskQualifying, "createdAt": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"state": domain.TaskReadyForQualification}},
	)
	if err != nil {
		return nil, fmt.Errorf("op=tasks.RecoverStale.qualifying: %w", err)
	}
	out[domain.TaskQualifying] = res.ModifiedCount

	res, err = r.coll.UpdateMany(ctx,
		bson.M{"state": domain.TaskPythonOrchestrating, "createdAt": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"state": domain.TaskReadyForGPU, "orchestratorThreadId": ""}},
	)
	if err != nil {
		return nil, fmt.Errorf("op=tasks.RecoverStale.orchestrating: %w", err)
	}
	out[domain.TaskPythonOrchestrating] = res.ModifiedCount

	return out, nil
}

// SaveMemory stores the qualifier's structured summary for a DONE task.
func (r *TaskRepo) SaveMemory(ctx domain.Context, m domain.TaskMemory) error {
	ctx, span := tasksTracer.Start(ctx, "tasks.SaveMemory")
	defer span.End()

	m.CreatedAt = time.Now().UTC()
	_, err := r.memory.ReplaceOne(ctx, bson.M{"_id": m.TaskID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("op=tasks.SaveMemory: %w", err)
	}
	return nil
}
