// Package reconciler implements the periodic orphan sweep of spec.md
// §4.7: it continuously cleans up containers, volumes and networks
// that no longer correspond to a live FlockRequest record.
package reconciler

import (
	"context"
	"time"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/log"
	"github.com/cuemby/flockd/pkg/metrics"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/cuemby/flockd/pkg/volume"
	"github.com/rs/zerolog"
)

// Reconciler periodically sweeps container, volume and network
// inventories for resources whose owning request record no longer
// exists, removing whatever it finds. It releases orphaned networks
// directly rather than through a pool's cache, since an orphan's
// owning pool is, by definition, no longer traceable.
type Reconciler struct {
	rt     runtime.Runtime
	store  *coordstore.Store
	labels types.Labels
	period time.Duration
	logger zerolog.Logger
	stopCh chan struct{}
}

// New creates a Reconciler. A period of 0 disables the background
// loop; callers may still invoke Reconcile directly (e.g. from a CLI
// subcommand).
func New(rt runtime.Runtime, store *coordstore.Store, labels types.Labels, period time.Duration) *Reconciler {
	return &Reconciler{
		rt:     rt,
		store:  store,
		labels: labels,
		period: period,
		logger: log.WithComponent("reconciler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the reconciliation loop in the background. A no-op
// when period is 0 (disabled, per spec.md §4.7).
func (r *Reconciler) Start() {
	if r.period <= 0 {
		return
	}
	go r.run()
}

// Stop ends the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	r.logger.Info().Dur("period", r.period).Msg("reconciler started")
	for {
		select {
		case <-ticker.C:
			r.Reconcile(context.Background())
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Reconcile runs one sweep cycle. Every step is best-effort: a
// failure is logged and the cycle continues rather than aborting
// (spec.md §4.7 "exceptions are logged and do not break the loop").
func (r *Reconciler) Reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	orphanReqids := make(map[string]bool)
	orphanNetworks := make(map[string]bool)

	containers, err := r.rt.ListContainers(ctx, map[string]string{})
	if err != nil {
		r.logger.Warn().Err(err).Msg("list containers failed during reconcile")
		return
	}

	for _, c := range containers {
		reqid, ok := c.Labels[r.labels.Request]
		if !ok || reqid == "" {
			continue
		}
		exists, err := r.store.Exists(coordstore.RequestKey(reqid))
		if err != nil {
			r.logger.Warn().Err(err).Str("reqid", reqid).Msg("check request existence failed")
			continue
		}
		if exists {
			continue
		}

		orphanReqids[reqid] = true
		if inspect, err := r.rt.InspectContainer(ctx, c.ID); err == nil {
			for net := range inspect.IPs {
				orphanNetworks[net] = true
			}
		}

		if err := r.rt.RemoveContainer(ctx, c.ID, true); err != nil {
			r.logger.Warn().Err(err).Str("container", c.ID).Str("reqid", reqid).Msg("remove orphaned container failed")
			continue
		}
		metrics.ReconciledOrphansTotal.Inc()
		r.logger.Info().Str("container", c.ID).Str("reqid", reqid).Msg("removed orphaned container")
	}

	for reqid := range orphanReqids {
		volume.PruneForRequest(ctx, r.rt, reqid, r.labels.Request, 0)
		if err := r.store.Del(coordstore.RequestKey(reqid)); err != nil {
			r.logger.Warn().Err(err).Str("reqid", reqid).Msg("delete stale request record failed")
		}
		if err := r.store.Del(coordstore.RequestPoolKey(reqid)); err != nil {
			r.logger.Warn().Err(err).Str("reqid", reqid).Msg("delete stale request-pool record failed")
		}
	}

	if len(orphanNetworks) == 0 {
		return
	}
	summaries, err := r.rt.ListNetworks(ctx, map[string]string{})
	if err != nil {
		r.logger.Warn().Err(err).Msg("list networks failed during reconcile")
		return
	}
	for _, n := range summaries {
		if !orphanNetworks[n.Name] && !orphanNetworks[n.ID] {
			continue
		}
		if len(n.Members) > 0 {
			continue
		}
		if err := r.rt.RemoveNetwork(ctx, n.ID); err != nil {
			r.logger.Warn().Err(err).Str("network", n.ID).Msg("release orphaned network failed, will retry next sweep")
		}
	}
}
