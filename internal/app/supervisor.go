// Package app wires the process's independent loops — the central
// poller, one continuous-indexer consumer per artifact kind, and the
// background task engine — behind a single Supervisor, and exposes a
// thin chi-based admin/health surface over them. Grounded on the
// teacher's cmd/server.go/cmd/worker.go bootstrap sequence and
// internal/app/router.go.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// loop is one supervised background goroutine. run must return promptly
// once ctx is canceled.
type loop struct {
	name string
	run  func(ctx context.Context)
}

// Supervisor starts every registered loop in its own goroutine and waits
// for all of them to return on shutdown, up to a bounded timeout so one
// slow-to-drain loop never hangs the process past its deadline.
type Supervisor struct {
	loops           []loop
	shutdownTimeout time.Duration
}

// NewSupervisor constructs a Supervisor. shutdownTimeout <= 0 defaults to
// 30s.
func NewSupervisor(shutdownTimeout time.Duration) *Supervisor {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Supervisor{shutdownTimeout: shutdownTimeout}
}

// Add registers a named loop. Must be called before Run.
func (s *Supervisor) Add(name string, run func(ctx context.Context)) {
	s.loops = append(s.loops, loop{name: name, run: run})
}

// Run starts every registered loop and blocks until ctx is canceled, then
// waits up to shutdownTimeout for all loops to return before giving up.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, l := range s.loops {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("loop starting", slog.String("loop", l.name))
			l.run(ctx)
			slog.Info("loop stopped", slog.String("loop", l.name))
		}()
	}

	<-ctx.Done()
	slog.Info("supervisor shutting down", slog.Duration("timeout", s.shutdownTimeout))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
		slog.Info("all loops stopped cleanly")
	case <-time.After(s.shutdownTimeout):
		slog.Warn("shutdown timeout exceeded, proceeding with remaining loops still draining")
	}
}
