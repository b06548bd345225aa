package poller

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jervisai/jervis/internal/adapter/observability"
	"github.com/jervisai/jervis/internal/domain"
)

var tracer = otel.Tracer("jervis/service/poller")

// ConnectionSource lists enabled connections, per §4.6 step 1.
type ConnectionSource interface {
	FindAllEnabled(ctx domain.Context) ([]domain.Connection, error)
}

// ClientSource resolves which clients reference a connection, per §4.6
// step 2.
type ClientSource interface {
	FindByConnectionID(ctx domain.Context, connectionID domain.ID) ([]domain.Client, error)
}

// ConnectionUpdater transitions a connection to INVALID on a 401/403
// encountered while polling it (§4.1, §7 Authentication).
type ConnectionUpdater interface {
	MarkInvalid(ctx domain.Context, id domain.ID, reason string) error
}

// UserTaskCreator raises the operator-facing remediation task an auth
// failure requires (§4.1: "creates a user task describing the
// remediation").
type UserTaskCreator interface {
	CreateUserTask(ctx domain.Context, t domain.Task) (domain.ID, error)
}

// Interval returns the per-kind default polling cadence (§4.6 step 5):
// HTTP 5m, IMAP 1m, POP3 2m.
func Interval(kind domain.ConnectionKind) time.Duration {
	switch kind {
	case domain.ConnectionIMAP:
		return time.Minute
	case domain.ConnectionPOP3:
		return 2 * time.Minute
	default:
		return 5 * time.Minute
	}
}

// Poller is the C6 Central Poller: a single long-running loop, started
// after a configured startup delay, that dispatches each enabled
// connection to the handler that claims it.
type Poller struct {
	connections  ConnectionSource
	clients      ClientSource
	connUpdater  ConnectionUpdater
	tasks        UserTaskCreator
	handlers     []Handler
	startupDelay time.Duration
	concurrency  int
}

// New constructs a Poller.
func New(connections ConnectionSource, clients ClientSource, connUpdater ConnectionUpdater, tasks UserTaskCreator, handlers []Handler, startupDelay time.Duration, concurrency int) *Poller {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Poller{
		connections:  connections,
		clients:      clients,
		connUpdater:  connUpdater,
		tasks:        tasks,
		handlers:     handlers,
		startupDelay: startupDelay,
		concurrency:  concurrency,
	}
}

// Run blocks until ctx is canceled, running one poll iteration per
// connection kind's own cadence. Per-kind cadence is realized by tracking
// each connection's next-due time in memory; a single shared ticker
// drives the check (§4.6 step 5).
func (p *Poller) Run(ctx domain.Context) {
	if p.startupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.startupDelay):
		}
	}

	nextDue := map[domain.ID]time.Time{}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("central poller stopping")
			return
		case <-ticker.C:
			p.tick(ctx, nextDue)
		}
	}
}

func (p *Poller) tick(ctx domain.Context, nextDue map[domain.ID]time.Time) {
	ctx, span := tracer.Start(ctx, "poller.tick")
	defer span.End()

	conns, err := p.connections.FindAllEnabled(ctx)
	if err != nil {
		slog.Error("poller failed to list connections", slog.Any("error", err))
		return
	}

	now := time.Now()
	sem := make(chan struct{}, p.concurrency)
	done := make(chan struct{}, len(conns))
	scheduled := 0

	for _, c := range conns {
		if due, ok := nextDue[c.ID]; ok && now.Before(due) {
			continue
		}
		scheduled++
		c := c
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			p.pollOne(ctx, c)
			nextDue[c.ID] = time.Now().Add(Interval(c.Kind))
		}()
	}
	for i := 0; i < scheduled; i++ {
		<-done
	}
}

func (p *Poller) pollOne(ctx domain.Context, c domain.Connection) {
	ctx, span := tracer.Start(ctx, "poller.pollOne")
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", c.ID.Hex()), attribute.String("connection.kind", string(c.Kind)))

	if c.State == domain.ConnectionInvalid {
		observability.PollCyclesTotal.WithLabelValues(string(c.Kind), "invalid").Inc()
		return
	}

	clients, err := p.clients.FindByConnectionID(ctx, c.ID)
	if err != nil {
		observability.PollCyclesTotal.WithLabelValues(string(c.Kind), "error").Inc()
		slog.Error("poller failed to resolve clients", slog.String("connection_id", c.ID.Hex()), slog.Any("error", err))
		return
	}
	if len(clients) == 0 {
		observability.PollCyclesTotal.WithLabelValues(string(c.Kind), "no_clients").Inc()
		return
	}

	var handler Handler
	for _, h := range p.handlers {
		if h.CanHandle(c) {
			handler = h
			break
		}
	}
	if handler == nil {
		observability.PollCyclesTotal.WithLabelValues(string(c.Kind), "no_handler").Inc()
		return
	}

	result, err := handler.Poll(ctx, c, clients)
	if err != nil {
		// Errors in a single connection must not stop the loop (§4.6).
		observability.PollCyclesTotal.WithLabelValues(string(c.Kind), "error").Inc()
		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			p.handleAuthFailure(ctx, c, err)
			return
		}
		slog.Error("poller handler failed", slog.String("connection_id", c.ID.Hex()), slog.Any("error", err))
		return
	}
	observability.PollCyclesTotal.WithLabelValues(string(c.Kind), "ok").Inc()
	observability.ArtifactsDiscoveredTotal.WithLabelValues(string(c.Kind)).Add(float64(result.Discovered))
	observability.ArtifactsUpsertedTotal.WithLabelValues(string(c.Kind)).Add(float64(result.Created))
}

// handleAuthFailure implements §4.1/§7's markInvalid remediation path: a
// connection that 401/403s is flipped to INVALID, and an operator-facing
// USER_TASK is raised describing the connection that needs re-auth.
// Later ticks still list the connection, but pollOne returns early while
// its state is INVALID, until testConnection sets it back to VALID.
func (p *Poller) handleAuthFailure(ctx domain.Context, c domain.Connection, cause error) {
	reason := cause.Error()
	slog.Error("connection authentication failed, marking invalid", slog.String("connection_id", c.ID.Hex()), slog.Any("error", cause))

	if p.connUpdater != nil {
		if err := p.connUpdater.MarkInvalid(ctx, c.ID, reason); err != nil {
			slog.Error("failed to mark connection invalid", slog.String("connection_id", c.ID.Hex()), slog.Any("error", err))
		}
	}
	if p.tasks == nil {
		return
	}
	task := domain.Task{
		Type:           "connection_reauth",
		Content:        fmt.Sprintf("Connection %q (%s) needs re-authentication: %s", c.Name, c.Kind, reason),
		ProcessingMode: domain.ModeBackground,
		State:          domain.TaskUserTask,
		CorrelationID:  uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := p.tasks.CreateUserTask(ctx, task); err != nil {
		slog.Error("failed to create connection re-auth user task", slog.String("connection_id", c.ID.Hex()), slog.Any("error", err))
	}
}
