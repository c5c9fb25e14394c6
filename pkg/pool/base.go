package pool

import (
	"context"
	"strconv"
	"time"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/engine"
	"github.com/cuemby/flockd/pkg/log"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/rs/zerolog"
)

// base holds the bookkeeping every pool kind shares: the set of
// running reqids, their liveness sentinels, and the ticker/stopCh
// expiry loop that reaps them (spec.md §4.5 common behavior).
type base struct {
	name        string
	duration    time.Duration
	expireCheck time.Duration
	graceTime   time.Duration

	engine  *engine.Engine
	store   *coordstore.Store
	netPool network.Pool
	labels  types.Labels
	logger  zerolog.Logger

	stopCh chan struct{}
}

func newBase(cfg types.PoolConfig, eng *engine.Engine, store *coordstore.Store, netPool network.Pool, labels types.Labels) base {
	expireCheck := cfg.ExpireCheck
	if expireCheck <= 0 {
		expireCheck = 5 * time.Second
	}
	b := base{
		name:        cfg.Name,
		duration:    cfg.Duration,
		expireCheck: expireCheck,
		graceTime:   cfg.GraceTime,
		engine:      eng,
		store:       store,
		netPool:     netPool,
		labels:      labels,
		logger:      log.WithComponent("pool").With().Str("pool", cfg.Name).Logger(),
		stopCh:      make(chan struct{}),
	}
	b.persistConfig(cfg)
	return b
}

// persistConfig publishes the pool's configuration into its p:<pool>:i
// hash, so a separate process (e.g. a CLI inspecting a running
// deployment) can read back what's actually in effect rather than
// re-parsing the YAML file.
func (b *base) persistConfig(cfg types.PoolConfig) {
	fields := map[string]string{
		"type":     string(cfg.Type),
		"max_size": strconv.Itoa(cfg.MaxSize),
		"duration": cfg.Duration.String(),
	}
	for field, value := range fields {
		if err := b.store.HSet(coordstore.PoolConfigKey(b.name), field, value); err != nil {
			b.logger.Warn().Err(err).Str("field", field).Msg("persist pool config failed")
		}
	}
}

func (b *base) Name() string { return b.name }

// withPoolLabel returns labels plus this pool's own name label, so the
// event subscriber can route a container's die/start events back to
// the pool that owns it without depending on the caller remembering to.
func (b *base) withPoolLabel(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[b.labels.Pool] = b.name
	return out
}

// addRunning marks reqid as belonging to this pool's running set (read
// by Stats and the expiry sweep) and records the reqid -> pool mapping.
func (b *base) addRunning(reqid string) error {
	if err := b.store.SAdd(coordstore.PoolFlocksKey(b.name), reqid); err != nil {
		return err
	}
	return b.store.Set(coordstore.RequestPoolKey(reqid), b.name, 0)
}

// markWaitDuration (re)arms reqid's liveness sentinel for the pool's
// configured duration. Its expiry, not a timer, is what the expiry
// loop watches for.
func (b *base) markWaitDuration(reqid string) error {
	if b.duration <= 0 {
		return nil
	}
	return b.store.Set(coordstore.PoolRunningKey(b.name, reqid), "1", b.duration)
}

// markExpired clears reqid's liveness sentinel immediately, used when
// a pool evicts a reqid outside the normal duration expiry (e.g.
// preemption).
func (b *base) markExpired(reqid string) error {
	return b.store.Del(coordstore.PoolRunningKey(b.name, reqid))
}

func (b *base) removeTracking(reqid string) {
	_ = b.store.SRem(coordstore.PoolFlocksKey(b.name), reqid)
	_ = b.store.Del(coordstore.PoolRunningKey(b.name, reqid))
	_ = b.store.Del(coordstore.RequestPoolKey(reqid))
}

func (b *base) runningCount() int {
	n, err := b.store.SCard(coordstore.PoolFlocksKey(b.name))
	if err != nil {
		return 0
	}
	return n
}

// startExpiryLoop runs onExpire for every tracked reqid whose
// liveness sentinel has disappeared, every expireCheck interval,
// until Shutdown is called (teacher's ticker/stopCh idiom).
func (b *base) startExpiryLoop(onExpire func(ctx context.Context, reqid string)) {
	go func() {
		ticker := time.NewTicker(b.expireCheck)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.sweepExpired(onExpire)
			case <-b.stopCh:
				return
			}
		}
	}()
}

func (b *base) sweepExpired(onExpire func(ctx context.Context, reqid string)) {
	members, err := b.store.SMembers(coordstore.PoolFlocksKey(b.name))
	if err != nil {
		b.logger.Warn().Err(err).Msg("list pool members failed during expiry sweep")
		return
	}
	ctx := context.Background()
	for _, reqid := range members {
		exists, err := b.store.Exists(coordstore.PoolRunningKey(b.name, reqid))
		if err != nil {
			b.logger.Warn().Err(err).Str("reqid", reqid).Msg("check liveness sentinel failed")
			continue
		}
		if !exists {
			onExpire(ctx, reqid)
		}
	}
}

func (b *base) Shutdown(ctx context.Context) {
	close(b.stopCh)
	if b.netPool != nil {
		b.netPool.Shutdown(ctx)
	}
}
