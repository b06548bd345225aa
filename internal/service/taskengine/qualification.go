package taskengine

import (
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jervisai/jervis/internal/domain"
)

// Qualifier is the small-model classifier boundary of §4.9/§3: it either
// finalizes a simple task or routes it on to GPU execution. No concrete
// model client is shipped (DESIGN.md open question 2); callers supply one.
type Qualifier interface {
	Qualify(ctx domain.Context, t domain.Task) (Verdict, error)
}

// Verdict is the qualifier's decision for one task.
type Verdict struct {
	// Simple, when true, means the task is finished without GPU
	// execution; Summary is then stored as the task's TaskMemory.
	Simple  bool
	Summary string
}

const qualificationBatchSize = 64

// qualificationLoop drains READY_FOR_QUALIFICATION tasks whose backoff
// has elapsed, on a fixed cadence with bounded concurrency (§4.9). A CAS
// guard skips an entire tick if the previous one is still draining, so a
// slow qualifier never runs two overlapping sweeps.
func (e *Engine) qualificationLoop(ctx domain.Context) {
	ticker := time.NewTicker(e.cfg.WaitInterval)
	defer ticker.Stop()

	e.qualificationTick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("qualification loop stopping")
			return
		case <-ticker.C:
			e.qualificationTick(ctx)
		}
	}
}

func (e *Engine) qualificationTick(ctx domain.Context) {
	if !e.qualifierBusy.CompareAndSwap(false, true) {
		slog.Warn("qualification tick skipped: previous tick still running")
		return
	}
	defer e.qualifierBusy.Store(false)

	ctx, span := tracer.Start(ctx, "taskengine.qualificationTick")
	defer span.End()

	tasks, err := e.tasks.EligibleForQualification(ctx, qualificationBatchSize)
	if err != nil {
		slog.Error("qualification loop failed to list eligible tasks", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("tasks.eligible", len(tasks)))

	sem := make(chan struct{}, e.cfg.QualifierConcurrency)
	done := make(chan struct{}, len(tasks))
	for _, t := range tasks {
		t := t
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			e.qualifyOne(ctx, t)
		}()
	}
	for range tasks {
		<-done
	}
}

func (e *Engine) qualifyOne(ctx domain.Context, t domain.Task) {
	ctx, span := tracer.Start(ctx, "taskengine.qualifyOne")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", t.ID.Hex()))

	claimed, ok, err := e.tasks.ClaimForQualification(ctx, t.ID)
	if err != nil {
		slog.Error("qualification claim failed", slog.String("task_id", t.ID.Hex()), slog.Any("error", err))
		return
	}
	if !ok {
		return // lost the race to another worker
	}

	verdict, err := e.qualifier.Qualify(ctx, claimed)
	if err != nil {
		e.handleQualificationFailure(ctx, claimed, err)
		return
	}

	if verdict.Simple {
		if err := e.tasks.SaveMemory(ctx, domain.TaskMemory{TaskID: claimed.ID, Summary: verdict.Summary}); err != nil {
			slog.Error("qualification failed to save memory", slog.String("task_id", claimed.ID.Hex()), slog.Any("error", err))
			return
		}
		if err := e.tasks.UpdateState(ctx, claimed.ID, domain.TaskDone, nil); err != nil {
			slog.Error("qualification failed to mark done", slog.String("task_id", claimed.ID.Hex()), slog.Any("error", err))
		}
		return
	}

	if err := e.tasks.UpdateState(ctx, claimed.ID, domain.TaskReadyForGPU, nil); err != nil {
		slog.Error("qualification failed to mark ready for gpu", slog.String("task_id", claimed.ID.Hex()), slog.Any("error", err))
	}
}

// handleQualificationFailure applies §4.9's retry policy: communication
// errors back off and retry forever; logic errors terminate the task.
func (e *Engine) handleQualificationFailure(ctx domain.Context, t domain.Task, err error) {
	if domain.ClassifyTaskError(err) == domain.ErrorClassLogic {
		if uerr := e.tasks.UpdateState(ctx, t.ID, domain.TaskError, bson.M{"errorMessage": err.Error()}); uerr != nil {
			slog.Error("qualification failed to mark error", slog.String("task_id", t.ID.Hex()), slog.Any("error", uerr))
		}
		e.publishNotification(ctx, t.ID, t.ClientID, "user_task", "qualification failed: "+err.Error())
		return
	}

	attempt := t.QualificationRetries + 1
	delay := domain.QualificationBackoff(attempt, e.cfg.QualifierInitialBackoff, e.cfg.QualifierMaxBackoff)
	if rerr := e.tasks.RecordQualificationRetry(ctx, t.ID, time.Now().Add(delay)); rerr != nil {
		slog.Error("qualification failed to record retry", slog.String("task_id", t.ID.Hex()), slog.Any("error", rerr))
	}
}
