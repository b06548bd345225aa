package taskengine

import "github.com/jervisai/jervis/internal/domain"

// PlannerState mirrors the status values the planner boundary returns
// (§6: `GET status?threadId=...`).
type PlannerState string

const (
	PlannerRunning     PlannerState = "running"
	PlannerInterrupted PlannerState = "interrupted"
	PlannerDone        PlannerState = "done"
	PlannerError       PlannerState = "error"
)

// PlannerStatus is one poll result from the C10 gateway.
type PlannerStatus struct {
	State               PlannerState
	InterruptAction     string
	InterruptDescription string
	Summary             string
	Error               string
}

// Planner is the C9-side view of the C10 Task Orchestrator Gateway: post
// a task, get back a thread id, and poll its status. Implementations
// must tolerate the planner being unreachable by returning
// PlannerStatus{State: PlannerRunning} rather than an error, per §4.10.
type Planner interface {
	Dispatch(ctx domain.Context, t domain.Task) (threadID string, err error)
	GetStatus(ctx domain.Context, threadID string) (PlannerStatus, error)
}
