// Package taskengine implements the C9 Background Task Engine: the
// qualification loop, execution loop, and orchestrator poll loop that
// drive a Task through the state machine of §4.9, plus start-up stale
// recovery and process-wide preemption.
package taskengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel"

	"github.com/jervisai/jervis/internal/domain"
)

var tracer = otel.Tracer("jervis/service/taskengine")

// TaskStore is the subset of mongostore.TaskRepo the engine depends on.
type TaskStore interface {
	EligibleForQualification(ctx domain.Context, limit int64) ([]domain.Task, error)
	ClaimForQualification(ctx domain.Context, id domain.ID) (domain.Task, bool, error)
	UpdateState(ctx domain.Context, id domain.ID, state domain.TaskState, fields bson.M) error
	RecordQualificationRetry(ctx domain.Context, id domain.ID, nextRetryAt time.Time) error
	ClaimNextForeground(ctx domain.Context) (domain.Task, bool, error)
	ClaimNextBackground(ctx domain.Context) (domain.Task, bool, error)
	DeleteIfNot(ctx domain.Context, id domain.ID, notState domain.TaskState) error
	PythonOrchestratingTasks(ctx domain.Context) ([]domain.Task, error)
	RecoverStale(ctx domain.Context, threshold time.Duration) (map[domain.TaskState]int64, error)
	SaveMemory(ctx domain.Context, m domain.TaskMemory) error
}

// EventPublisher is the fire-and-forget notification/queue-status bus
// (SPEC_FULL.md's C9 additions). A publish failure is logged and never
// blocks a loop iteration.
type EventPublisher interface {
	PublishQueueStatus(ctx domain.Context, event QueueStatusEvent) error
	PublishNotification(ctx domain.Context, event NotificationEvent) error
}

// QueueStatusEvent fires on execution-loop claim and release (§4.9).
type QueueStatusEvent struct {
	TaskID         domain.ID
	ProcessingMode domain.ProcessingMode
	Action         string // "claimed" | "released"
}

// NotificationEvent is a UI-toast-worthy user notification (§7).
type NotificationEvent struct {
	TaskID  domain.ID
	ClientID domain.ID
	Kind    string // "communication_error" | "user_task"
	Message string
}

// Config tunes the engine's cadences and concurrency limits (§6).
type Config struct {
	WaitOnStartup         time.Duration
	WaitInterval          time.Duration
	WaitOnError           time.Duration
	QualifierConcurrency  int
	QualifierInitialBackoff time.Duration
	QualifierMaxBackoff   time.Duration
	OrchestratorPollInterval time.Duration
	StaleTaskThreshold    time.Duration
}

func (c *Config) setDefaults() {
	if c.WaitOnStartup <= 0 {
		c.WaitOnStartup = 10 * time.Second
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = 30 * time.Second
	}
	if c.WaitOnError <= 0 {
		c.WaitOnError = 5 * time.Second
	}
	if c.QualifierConcurrency <= 0 {
		c.QualifierConcurrency = 8
	}
	if c.QualifierInitialBackoff <= 0 {
		c.QualifierInitialBackoff = 5 * time.Second
	}
	if c.QualifierMaxBackoff <= 0 {
		c.QualifierMaxBackoff = 300 * time.Second
	}
	if c.OrchestratorPollInterval <= 0 {
		c.OrchestratorPollInterval = 5 * time.Second
	}
	if c.StaleTaskThreshold <= 0 {
		c.StaleTaskThreshold = time.Hour
	}
}

// Engine is the process-wide singleton driving all three C9 loops.
// Started is enforced with a CAS guard (§4.9: "singleton property must
// be enforced, e.g. by a once-only initialization flag").
type Engine struct {
	tasks     TaskStore
	qualifier Qualifier
	planner   Planner
	events    EventPublisher
	cfg       Config

	started        atomic.Bool
	qualifierBusy  atomic.Bool
	runningCancel  atomic.Pointer[context.CancelFunc]
}

// New constructs an Engine. events may be nil, in which case queue-status
// and notification publishing is a no-op.
func New(tasks TaskStore, qualifier Qualifier, planner Planner, events EventPublisher, cfg Config) *Engine {
	cfg.setDefaults()
	return &Engine{tasks: tasks, qualifier: qualifier, planner: planner, events: events, cfg: cfg}
}

// Run starts all three loops and blocks until ctx is canceled. Calling
// Run a second time while the first is still active is a no-op: the
// singleton guard returns immediately so two Engine.Run goroutines can
// never drive the same store concurrently from one process.
func (e *Engine) Run(ctx domain.Context) {
	if !e.started.CompareAndSwap(false, true) {
		slog.Warn("task engine already running, ignoring duplicate Run")
		return
	}
	defer e.started.Store(false)

	e.recoverStale(ctx)

	select {
	case <-ctx.Done():
		return
	case <-time.After(e.cfg.WaitOnStartup):
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); e.qualificationLoop(ctx) }()
	go func() { defer wg.Done(); e.executionLoop(ctx) }()
	go func() { defer wg.Done(); e.orchestratorPollLoop(ctx) }()
	wg.Wait()
}

// InterruptNow cancels whichever task is currently executing, per §4.9's
// process-wide atomic cancellation handle — used when a foreground
// request needs to preempt a running background task.
func (e *Engine) InterruptNow() {
	if cancel := e.runningCancel.Load(); cancel != nil {
		(*cancel)()
	}
}

func (e *Engine) setRunningCancel(cancel context.CancelFunc) {
	e.runningCancel.Store(&cancel)
}

func (e *Engine) clearRunningCancel() {
	e.runningCancel.Store(nil)
}

func (e *Engine) recoverStale(ctx domain.Context) {
	ctx, span := tracer.Start(ctx, "taskengine.recoverStale")
	defer span.End()

	counts, err := e.tasks.RecoverStale(ctx, e.cfg.StaleTaskThreshold)
	if err != nil {
		slog.Error("task engine stale recovery failed", slog.Any("error", err))
		return
	}
	for state, n := range counts {
		if n > 0 {
			slog.Info("task engine rewound stale tasks", slog.String("state", string(state)), slog.Int64("count", n))
		}
	}
}

func (e *Engine) publishQueueStatus(ctx domain.Context, taskID domain.ID, mode domain.ProcessingMode, action string) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishQueueStatus(ctx, QueueStatusEvent{TaskID: taskID, ProcessingMode: mode, Action: action}); err != nil {
		slog.Warn("task engine failed to publish queue-status event", slog.Any("error", err))
	}
}

func (e *Engine) publishNotification(ctx domain.Context, taskID, clientID domain.ID, kind, message string) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishNotification(ctx, NotificationEvent{TaskID: taskID, ClientID: clientID, Kind: kind, Message: message}); err != nil {
		slog.Warn("task engine failed to publish notification event", slog.Any("error", err))
	}
}

func updateStateErr(op string, err error) error {
	return fmt.Errorf("op=%s: %w", op, err)
}
