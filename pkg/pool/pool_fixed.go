package pool

import (
	"context"
	"time"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/engine"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/types"
)

const (
	defaultWaitPingTTL = 10 * time.Second
	sweepBatch         = 10
)

// FixedSizePool implements the "fixed" admission policy (spec.md
// §4.5.2): at most MaxSize flocks run concurrently; everything else
// waits in a FIFO queue (a zset scored by a monotonic counter) until a
// slot frees up. Callers poll by calling Start again; queue position
// is reported rather than pushed.
type FixedSizePool struct {
	base
	maxSize     int
	waitPingTTL time.Duration
}

func NewFixedSizePool(cfg types.PoolConfig, eng *engine.Engine, store *coordstore.Store, netPool network.Pool, labels types.Labels) *FixedSizePool {
	ttl := cfg.WaitPingTTL
	if ttl <= 0 {
		ttl = defaultWaitPingTTL
	}
	return &FixedSizePool{
		base:        newBase(cfg, eng, store, netPool, labels),
		maxSize:     cfg.MaxSize,
		waitPingTTL: ttl,
	}
}

func (p *FixedSizePool) Start(ctx context.Context, reqid string, labels, environ map[string]string, autoRemove bool) types.StartResult {
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

	rank, err := p.ensureQueued(reqid)
	if err != nil {
		return types.StartResult{Err: types.NewError(types.ErrStartError, "enqueue failed", nil)}
	}

	avail := p.maxSize - p.runningCount()
	if rank >= avail && rank > 1 {
		p.sweepQueue(rank)
		rank, err = p.queueRank(reqid)
		if err != nil {
			return types.StartResult{Err: types.NewError(types.ErrStartError, "re-rank failed", nil)}
		}
		avail = p.maxSize - p.runningCount()
	}

	if rank >= avail {
		pos := rank
		return types.StartResult{Queued: &pos}
	}

	_ = p.store.ZRem(coordstore.PoolQueueKey(p.name), reqid)
	_ = p.store.Del(coordstore.PoolQueueEntryKey(p.name, reqid))

	resp, serr := p.engine.Start(ctx, reqid, p.withPoolLabel(labels), environ, autoRemove, p.netPool)
	if serr != nil {
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

// ensureQueued adds reqid to the FIFO queue if it isn't already
// present, refreshes its liveness ping, and returns its current rank.
func (p *FixedSizePool) ensureQueued(reqid string) (int, error) {
	rank, found, err := p.store.ZRank(coordstore.PoolQueueKey(p.name), reqid)
	if err != nil {
		return 0, err
	}
	if !found {
		next, err := p.store.IncrBy(coordstore.PoolQueueCounterKey(p.name), "next", 1)
		if err != nil {
			return 0, err
		}
		if err := p.store.ZAdd(coordstore.PoolQueueKey(p.name), float64(next), reqid); err != nil {
			return 0, err
		}
		rank = 0
		if r, ok, _ := p.store.ZRank(coordstore.PoolQueueKey(p.name), reqid); ok {
			rank = r
		}
	}
	if err := p.store.Set(coordstore.PoolQueueEntryKey(p.name, reqid), "1", p.waitPingTTL); err != nil {
		return 0, err
	}
	return rank, nil
}

func (p *FixedSizePool) queueRank(reqid string) (int, error) {
	rank, _, err := p.store.ZRank(coordstore.PoolQueueKey(p.name), reqid)
	return rank, err
}

// sweepQueue reaps the earliest min(sweepBatch, upTo) queue entries
// whose liveness ping has expired: a caller that stopped polling is
// assumed to have given up (spec.md §4.5.2).
func (p *FixedSizePool) sweepQueue(upTo int) {
	limit := upTo
	if limit > sweepBatch {
		limit = sweepBatch
	}
	members, err := p.store.ZRange(coordstore.PoolQueueKey(p.name), 0, limit-1)
	if err != nil {
		return
	}
	for _, reqid := range members {
		alive, err := p.store.Exists(coordstore.PoolQueueEntryKey(p.name, reqid))
		if err != nil || alive {
			continue
		}
		_ = p.store.ZRem(coordstore.PoolQueueKey(p.name), reqid)
		p.logger.Info().Str("reqid", reqid).Msg("reaped abandoned queue entry")
	}
}

func (p *FixedSizePool) Remove(ctx context.Context, reqid string, grace time.Duration) *types.Error {
	_ = p.store.ZRem(coordstore.PoolQueueKey(p.name), reqid)
	_ = p.store.Del(coordstore.PoolQueueEntryKey(p.name, reqid))
	err := p.engine.Remove(ctx, reqid, false, grace, p.netPool)
	p.removeTracking(reqid)
	return err
}

// HandleDieEvent is a no-op: a freed slot is only discovered the next
// time some caller polls Start, matching the pull-based queue design.
func (p *FixedSizePool) HandleDieEvent(ctx context.Context, reqid string, exitCode int, deferred bool) {}

// HandleStartEvent is a no-op: the fixed-size pool's admission state
// is driven entirely by polling Start, not by runtime events.
func (p *FixedSizePool) HandleStartEvent(ctx context.Context, reqid string, deferred bool) {}

func (p *FixedSizePool) Stats() (running, queued, active int) {
	n, _ := p.store.ZRange(coordstore.PoolQueueKey(p.name), 0, -1)
	return p.runningCount(), len(n), 0
}

func (p *FixedSizePool) StartExpiryLoop() {
	p.startExpiryLoop(func(ctx context.Context, reqid string) {
		_ = p.engine.Stop(ctx, reqid, p.graceTime)
		if err := p.engine.Remove(ctx, reqid, false, p.graceTime, p.netPool); err != nil {
			p.logger.Warn().Str("reqid", reqid).Msg("expire remove reported an error")
		}
		p.removeTracking(reqid)
	})
}
