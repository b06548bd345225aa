// Package poller implements the C6 Central Poller and the C7 per-protocol
// Polling Handlers it dispatches to.
package poller

import (
	"github.com/jervisai/jervis/internal/domain"
)

// Result summarizes one handler invocation (§4.7).
type Result struct {
	Discovered int
	Created    int
	Skipped    int
	Errors     int
}

// Handler is a C7 per-protocol poller. CanHandle reports whether this
// handler owns the given connection kind; Poll performs one fetch cycle
// for the clients referencing it, writing discovered content to staging
// and advancing the connection's polling cursors.
type Handler interface {
	CanHandle(c domain.Connection) bool
	Poll(ctx domain.Context, c domain.Connection, clients []domain.Client) (Result, error)
}
