package taskengine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jervisai/jervis/internal/domain"
)

// executionLoop claims and dispatches at most one task at a time (§4.9:
// "Runs at most one task at a time"): FOREGROUND by queuePosition first,
// else the oldest BACKGROUND task. It only hands the task to the planner
// and records PYTHON_ORCHESTRATING — the orchestrator poll loop owns
// waiting for the result, so this loop is free to claim the next task
// immediately after dispatch.
func (e *Engine) executionLoop(ctx domain.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("execution loop stopping")
			return
		default:
		}

		t, ok, err := e.claimNext(ctx)
		if err != nil {
			slog.Error("execution loop claim failed", slog.Any("error", err))
			e.sleep(ctx, e.cfg.WaitOnError)
			continue
		}
		if !ok {
			e.sleep(ctx, e.cfg.WaitInterval)
			continue
		}

		e.dispatchOne(ctx, t)
	}
}

func (e *Engine) claimNext(ctx domain.Context) (domain.Task, bool, error) {
	t, ok, err := e.tasks.ClaimNextForeground(ctx)
	if err != nil {
		return domain.Task{}, false, err
	}
	if ok {
		return t, true, nil
	}
	return e.tasks.ClaimNextBackground(ctx)
}

func (e *Engine) dispatchOne(parent domain.Context, t domain.Task) {
	ctx, span := tracer.Start(parent, "taskengine.dispatchOne")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", t.ID.Hex()), attribute.String("task.processing_mode", string(t.ProcessingMode)))

	e.publishQueueStatus(ctx, t.ID, t.ProcessingMode, "claimed")

	runCtx, cancel := context.WithCancel(ctx)
	e.setRunningCancel(cancel)
	defer func() {
		cancel()
		e.clearRunningCancel()
		e.publishQueueStatus(ctx, t.ID, t.ProcessingMode, "released")
	}()

	threadID, err := e.planner.Dispatch(runCtx, t)
	if err != nil {
		e.handleDispatchFailure(ctx, t, err)
		return
	}

	if err := e.tasks.UpdateState(ctx, t.ID, domain.TaskPythonOrchestrating, bson.M{"orchestratorThreadId": threadID}); err != nil {
		slog.Error("execution loop failed to record dispatch", slog.String("task_id", t.ID.Hex()), slog.Any("error", err))
	}
}

// handleDispatchFailure classifies a planner dispatch failure per §4.9:
// communication errors rewind the claim (so the next cycle retries) and
// back off linearly; logic errors terminate the task. Cancellation mid-
// dispatch (InterruptNow) also lands here as a communication failure so
// the claim is never left stranded in DISPATCHED_GPU.
func (e *Engine) handleDispatchFailure(ctx domain.Context, t domain.Task, err error) {
	if domain.ClassifyTaskError(err) == domain.ErrorClassLogic && !errors.Is(err, context.Canceled) {
		if uerr := e.tasks.UpdateState(ctx, t.ID, domain.TaskError, bson.M{"errorMessage": err.Error()}); uerr != nil {
			slog.Error("execution loop failed to mark error", slog.String("task_id", t.ID.Hex()), slog.Any("error", uerr))
		}
		e.publishNotification(ctx, t.ID, t.ClientID, "user_task", "dispatch failed: "+err.Error())
		return
	}

	failures := t.ConsecutiveCommFailures + 1
	if uerr := e.tasks.UpdateState(ctx, t.ID, domain.TaskReadyForGPU, bson.M{"consecutiveCommFailures": failures}); uerr != nil {
		slog.Error("execution loop failed to rewind after comm failure", slog.String("task_id", t.ID.Hex()), slog.Any("error", uerr))
	}
	e.publishNotification(ctx, t.ID, t.ClientID, "communication_error", "planner unreachable: "+err.Error())
	e.sleep(ctx, domain.ExecutionCommBackoff(failures))
}

func (e *Engine) sleep(ctx domain.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
