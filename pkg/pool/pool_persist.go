package pool

import (
	"context"
	"time"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/engine"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/types"
)

// PersistentPool implements the "persist" admission policy (spec.md
// §4.5.3): up to MaxSize flocks run concurrently. Once full, the
// oldest-running flock is preempted (stopped, kept as a record) to
// admit whoever has been waiting longest, and the preempted flock is
// pushed back onto the tail of the wait queue to be restarted later.
type PersistentPool struct {
	base
	maxSize int
}

func NewPersistentPool(cfg types.PoolConfig, eng *engine.Engine, store *coordstore.Store, netPool network.Pool, labels types.Labels) *PersistentPool {
	return &PersistentPool{
		base:    newBase(cfg, eng, store, netPool, labels),
		maxSize: cfg.MaxSize,
	}
}

func (p *PersistentPool) Start(ctx context.Context, reqid string, labels, environ map[string]string, autoRemove bool) types.StartResult {
	running, err := p.store.Exists(coordstore.PoolRunningKey(p.name, reqid))
	if err != nil {
		return types.StartResult{Err: types.NewError(types.ErrStartError, "liveness check failed", nil)}
	}
	if running {
		resp, rerr := p.engine.Response(reqid)
		if rerr != nil {
			return types.StartResult{Err: rerr}
		}
		return types.StartResult{Response: resp}
	}

	waiting, err := p.store.SIsMember(coordstore.PersistWaitSetKey(p.name), reqid)
	if err != nil {
		return types.StartResult{Err: types.NewError(types.ErrStartError, "wait-set check failed", nil)}
	}
	if waiting {
		pos, err := p.waitPosition(reqid)
		if err != nil {
			return types.StartResult{Err: types.NewError(types.ErrStartError, "wait position lookup failed", nil)}
		}
		return types.StartResult{Queued: &pos}
	}

	if err := p.store.SAdd(coordstore.PersistActiveKey(p.name), reqid); err != nil {
		p.logger.Warn().Err(err).Str("reqid", reqid).Msg("track active flock failed")
	}

	avail := p.maxSize - p.runningCount()
	if avail <= 0 {
		if err := p.enqueue(reqid); err != nil {
			return types.StartResult{Err: types.NewError(types.ErrStartError, "enqueue failed", nil)}
		}
		pos, _ := p.waitPosition(reqid)
		return types.StartResult{Queued: &pos}
	}

	resp, serr := p.engine.Start(ctx, reqid, p.withPoolLabel(labels), environ, autoRemove, p.netPool)
	if serr != nil {
		_ = p.store.SRem(coordstore.PersistActiveKey(p.name), reqid)
		return types.StartResult{Err: serr}
	}
	if err := p.addRunning(reqid); err != nil {
		p.logger.Warn().Err(err).Str("reqid", reqid).Msg("track running flock failed")
	}
	if err := p.markWaitDuration(reqid); err != nil {
		p.logger.Warn().Err(err).Str("reqid", reqid).Msg("arm wait duration failed")
	}
	return types.StartResult{Response: resp}
}

func (p *PersistentPool) enqueue(reqid string) error {
	if err := p.store.RPush(coordstore.PersistWaitQueueKey(p.name), reqid); err != nil {
		return err
	}
	return p.store.SAdd(coordstore.PersistWaitSetKey(p.name), reqid)
}

func (p *PersistentPool) waitPosition(reqid string) (int, error) {
	members, err := p.store.LRange(coordstore.PersistWaitQueueKey(p.name), 0, -1)
	if err != nil {
		return 0, err
	}
	for i, m := range members {
		if m == reqid {
			return i, nil
		}
	}
	return len(members), nil
}

func (p *PersistentPool) Remove(ctx context.Context, reqid string, grace time.Duration) *types.Error {
	wasRunning, _ := p.store.Exists(coordstore.PoolRunningKey(p.name, reqid))

	_ = p.store.SRem(coordstore.PersistActiveKey(p.name), reqid)
	_ = p.store.SRem(coordstore.PersistWaitSetKey(p.name), reqid)
	_ = p.store.LRem(coordstore.PersistWaitQueueKey(p.name), 0, reqid)

	err := p.engine.Remove(ctx, reqid, false, grace, p.netPool)
	p.removeTracking(reqid)
	if err != nil {
		return err
	}

	if wasRunning {
		p.promoteNext(ctx)
	}
	return nil
}

// HandleDieEvent reacts to a container exit reported by the event
// subscriber. A clean container exit simply removes the flock and, as
// Remove always does, promotes the next waiter into the freed slot —
// this reqid itself is not re-queued (spec.md §4.5.3).
func (p *PersistentPool) HandleDieEvent(ctx context.Context, reqid string, exitCode int, deferred bool) {
	if deferred || exitCode != 0 {
		return
	}
	if err := p.Remove(ctx, reqid, p.graceTime); err != nil {
		p.logger.Warn().Str("reqid", reqid).Msg("die-event remove reported an error")
	}
}

// HandleStartEvent is a no-op: a persisted flock's admission state is
// already settled by the time any of its containers starts.
func (p *PersistentPool) HandleStartEvent(ctx context.Context, reqid string, deferred bool) {}

// promoteNext pops the longest-waiting reqid and tries to start it,
// skipping any that fail until one succeeds or the queue is empty.
func (p *PersistentPool) promoteNext(ctx context.Context) {
	next, ok, err := p.store.LPop(coordstore.PersistWaitQueueKey(p.name))
	if err != nil || !ok {
		return
	}
	_ = p.store.SRem(coordstore.PersistWaitSetKey(p.name), next)
	p.admitWaiter(ctx, next)
}

// admitWaiter tries to start reqid, already popped off the wait
// queue; on failure it drops reqid and tries the next waiter in line,
// until one succeeds or the queue is empty.
func (p *PersistentPool) admitWaiter(ctx context.Context, reqid string) {
	for {
		resp, serr := p.engine.Start(ctx, reqid, p.withPoolLabel(nil), nil, false, p.netPool)
		if serr == nil {
			_ = resp
			if err := p.addRunning(reqid); err != nil {
				p.logger.Warn().Err(err).Str("reqid", reqid).Msg("track running flock failed")
			}
			if err := p.markWaitDuration(reqid); err != nil {
				p.logger.Warn().Err(err).Str("reqid", reqid).Msg("arm wait duration failed")
			}
			return
		}

		p.logger.Warn().Str("reqid", reqid).Str("error", serr.Code()).Msg("promoted flock failed to start, trying next waiter")
		_ = p.store.SRem(coordstore.PersistActiveKey(p.name), reqid)

		next, ok, err := p.store.LPop(coordstore.PersistWaitQueueKey(p.name))
		if err != nil || !ok {
			return
		}
		_ = p.store.SRem(coordstore.PersistWaitSetKey(p.name), next)
		reqid = next
	}
}

func (p *PersistentPool) Stats() (running, queued, active int) {
	waiting, _ := p.store.LLen(coordstore.PersistWaitQueueKey(p.name))
	active, _ = p.store.SCard(coordstore.PersistActiveKey(p.name))
	return p.runningCount(), waiting, active
}

// StartExpiryLoop checks, on each running flock's duration lapse,
// whether anyone is waiting. If the wait queue is empty, the flock is
// left alone and its duration is simply refreshed. Otherwise the flock
// is preempted (stopped, record kept, pushed to the tail of the wait
// queue) and the popped waiter is started in its place.
func (p *PersistentPool) StartExpiryLoop() {
	p.startExpiryLoop(func(ctx context.Context, reqid string) {
		next, ok, err := p.store.LPop(coordstore.PersistWaitQueueKey(p.name))
		if err != nil {
			p.logger.Warn().Err(err).Str("reqid", reqid).Msg("wait-queue pop failed during expiry check")
			return
		}
		if !ok {
			if err := p.markWaitDuration(reqid); err != nil {
				p.logger.Warn().Err(err).Str("reqid", reqid).Msg("refresh wait duration failed")
			}
			return
		}
		_ = p.store.SRem(coordstore.PersistWaitSetKey(p.name), next)

		if err := p.engine.Stop(ctx, reqid, p.graceTime); err != nil {
			p.logger.Warn().Str("reqid", reqid).Msg("preempt stop reported an error")
		}
		if err := p.engine.Remove(ctx, reqid, true, p.graceTime, p.netPool); err != nil {
			p.logger.Warn().Str("reqid", reqid).Msg("preempt remove reported an error")
			if err := p.enqueue(next); err != nil {
				p.logger.Warn().Err(err).Str("reqid", next).Msg("re-enqueue popped waiter failed")
			}
			return
		}
		_ = p.markExpired(reqid)
		_ = p.store.SRem(coordstore.PoolFlocksKey(p.name), reqid)

		if err := p.enqueue(reqid); err != nil {
			p.logger.Warn().Err(err).Str("reqid", reqid).Msg("re-enqueue preempted flock failed")
		}
		p.admitWaiter(ctx, next)
	})
}
