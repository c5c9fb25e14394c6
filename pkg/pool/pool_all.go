package pool

import (
	"context"
	"time"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/engine"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/types"
)

// LaunchAllPool implements the "all" admission policy (spec.md
// §4.5.1): every request is launched immediately, with no capacity
// limit and no queue. A reqid is torn down once its wait duration
// sentinel expires.
type LaunchAllPool struct {
	base
}

func NewLaunchAllPool(cfg types.PoolConfig, eng *engine.Engine, store *coordstore.Store, netPool network.Pool, labels types.Labels) *LaunchAllPool {
	return &LaunchAllPool{base: newBase(cfg, eng, store, netPool, labels)}
}

func (p *LaunchAllPool) Start(ctx context.Context, reqid string, labels, environ map[string]string, autoRemove bool) types.StartResult {
	resp, err := p.engine.Start(ctx, reqid, p.withPoolLabel(labels), environ, autoRemove, p.netPool)
	if err != nil {
		return types.StartResult{Err: err}
	}
	if err := p.addRunning(reqid); err != nil {
		p.logger.Warn().Err(err).Str("reqid", reqid).Msg("track running flock failed")
	}
	if err := p.markWaitDuration(reqid); err != nil {
		p.logger.Warn().Err(err).Str("reqid", reqid).Msg("arm wait duration failed")
	}
	return types.StartResult{Response: resp}
}

func (p *LaunchAllPool) Remove(ctx context.Context, reqid string, grace time.Duration) *types.Error {
	err := p.engine.Remove(ctx, reqid, false, grace, p.netPool)
	p.removeTracking(reqid)
	return err
}

// HandleDieEvent clears reqid's wait duration sentinel, so the expiry
// loop reaps the flock on its next sweep regardless of which container
// exited (spec.md §4.5.1).
func (p *LaunchAllPool) HandleDieEvent(ctx context.Context, reqid string, exitCode int, deferred bool) {
	_ = p.markExpired(reqid)
}

// HandleStartEvent is a no-op: launch-all has no admission state that
// a container start could affect.
func (p *LaunchAllPool) HandleStartEvent(ctx context.Context, reqid string, deferred bool) {}

func (p *LaunchAllPool) Stats() (running, queued, active int) {
	return p.runningCount(), 0, 0
}

func (p *LaunchAllPool) StartExpiryLoop() {
	p.startExpiryLoop(func(ctx context.Context, reqid string) {
		_ = p.engine.Stop(ctx, reqid, p.graceTime)
		if err := p.engine.Remove(ctx, reqid, false, p.graceTime, p.netPool); err != nil {
			p.logger.Warn().Str("reqid", reqid).Msg("expire remove reported an error")
		}
		p.removeTracking(reqid)
	})
}
