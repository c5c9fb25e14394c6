// Package pool implements the three flock admission policies of
// spec.md §4.5: launch-all, fixed-size (FIFO queue with liveness
// pings) and persistent (fixed capacity with preemption). All three
// share the bookkeeping primitives in base.go and differ only in how
// they decide when a reqid may call through to the engine.
package pool

import (
	"context"
	"time"

	"github.com/cuemby/flockd/pkg/types"
)

// Pool is the admission-policy interface the engine's callers go
// through instead of calling Engine directly, so that capacity and
// queueing decisions live in one place per pool.
type Pool interface {
	// Name returns the pool's configured name.
	Name() string

	// Start admits reqid if the pool's policy allows it right now,
	// otherwise returns a queue position. Idempotent for an
	// already-running reqid.
	Start(ctx context.Context, reqid string, labels, environ map[string]string, autoRemove bool) types.StartResult

	// Remove tears reqid down. The persistent pool also promotes its
	// next waiter into the freed slot; a fixed-size pool's waiters take
	// the slot on their next Start.
	Remove(ctx context.Context, reqid string, grace time.Duration) *types.Error

	// HandleDieEvent reacts to a container of reqid exiting, as
	// reported by the event subscriber.
	HandleDieEvent(ctx context.Context, reqid string, exitCode int, deferred bool)

	// HandleStartEvent reacts to a container of reqid starting, as
	// reported by the event subscriber.
	HandleStartEvent(ctx context.Context, reqid string, deferred bool)

	// Stats reports (running, queued, active) counts for introspection.
	Stats() (running, queued, active int)

	// StartExpiryLoop begins the pool's background expiry loop.
	StartExpiryLoop()

	// Shutdown stops the expiry loop and releases pooled resources.
	Shutdown(ctx context.Context)
}
