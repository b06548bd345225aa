package taskengine

import (
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jervisai/jervis/internal/domain"
)

// orchestratorPollLoop iterates PYTHON_ORCHESTRATING tasks every
// OrchestratorPollInterval and advances each per the planner's status
// (§4.9). A planner that errors on GetStatus is treated exactly like
// "running": the task is left untouched and retried on the next poll,
// so a flaky planner never strands or double-dispatches a task (§4.10,
// §8 "Planner unreachable").
func (e *Engine) orchestratorPollLoop(ctx domain.Context) {
	ticker := time.NewTicker(e.cfg.OrchestratorPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator poll loop stopping")
			return
		case <-ticker.C:
			e.pollTick(ctx)
		}
	}
}

func (e *Engine) pollTick(ctx domain.Context) {
	ctx, span := tracer.Start(ctx, "taskengine.pollTick")
	defer span.End()

	tasks, err := e.tasks.PythonOrchestratingTasks(ctx)
	if err != nil {
		slog.Error("orchestrator poll loop failed to list tasks", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int("tasks.orchestrating", len(tasks)))

	for _, t := range tasks {
		e.pollOne(ctx, t)
	}
}

func (e *Engine) pollOne(ctx domain.Context, t domain.Task) {
	status, err := e.planner.GetStatus(ctx, t.OrchestratorThreadID)
	if err != nil {
		slog.Warn("orchestrator poll failed, treating as still running", slog.String("task_id", t.ID.Hex()), slog.Any("error", err))
		return
	}

	switch status.State {
	case PlannerRunning:
		return
	case PlannerInterrupted:
		if uerr := e.tasks.UpdateState(ctx, t.ID, domain.TaskUserTask, bson.M{"errorMessage": status.InterruptDescription}); uerr != nil {
			slog.Error("orchestrator poll failed to mark interrupted", slog.String("task_id", t.ID.Hex()), slog.Any("error", uerr))
		}
		e.publishNotification(ctx, t.ID, t.ClientID, "user_task", status.InterruptDescription)
	case PlannerDone:
		e.handleDone(ctx, t, status)
	case PlannerError:
		if uerr := e.tasks.UpdateState(ctx, t.ID, domain.TaskError, bson.M{"errorMessage": status.Error}); uerr != nil {
			slog.Error("orchestrator poll failed to mark error", slog.String("task_id", t.ID.Hex()), slog.Any("error", uerr))
		}
		e.publishNotification(ctx, t.ID, t.ClientID, "communication_error", status.Error)
	default:
		slog.Warn("orchestrator poll got unrecognized status", slog.String("task_id", t.ID.Hex()), slog.String("state", string(status.State)))
	}
}

func (e *Engine) handleDone(ctx domain.Context, t domain.Task, status PlannerStatus) {
	if status.Summary != "" {
		if err := e.tasks.SaveMemory(ctx, domain.TaskMemory{TaskID: t.ID, Summary: status.Summary}); err != nil {
			slog.Error("orchestrator poll failed to save memory", slog.String("task_id", t.ID.Hex()), slog.Any("error", err))
		}
	}

	if t.ProcessingMode == domain.ModeForeground {
		// Final state per §4.9: preserved as a completed chat turn.
		if err := e.tasks.UpdateState(ctx, t.ID, domain.TaskDispatchedGPU, nil); err != nil {
			slog.Error("orchestrator poll failed to finalize foreground task", slog.String("task_id", t.ID.Hex()), slog.Any("error", err))
		}
		return
	}

	if err := e.tasks.DeleteIfNot(ctx, t.ID, domain.TaskUserTask); err != nil {
		slog.Error("orchestrator poll failed to delete finished background task", slog.String("task_id", t.ID.Hex()), slog.Any("error", err))
	}
}
