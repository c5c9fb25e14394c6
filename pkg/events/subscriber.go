// Package events implements the Container Event Subscriber (spec.md
// §4.6): it drains the runtime's event stream and drives pool state on
// container die/start, without ever letting a malformed event take the
// loop down.
package events

import (
	"context"

	"github.com/cuemby/flockd/pkg/log"
	"github.com/cuemby/flockd/pkg/pool"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/rs/zerolog"
)

// Subscriber reads rt.Events and dispatches die/start notifications to
// the pool named by each event's pool label.
type Subscriber struct {
	rt     runtime.Runtime
	pools  map[string]pool.Pool
	labels types.Labels
	logger zerolog.Logger
	stopCh chan struct{}
}

// New builds a Subscriber over the given pools, keyed by pool name.
func New(rt runtime.Runtime, pools map[string]pool.Pool, labels types.Labels) *Subscriber {
	return &Subscriber{
		rt:     rt,
		pools:  pools,
		labels: labels,
		logger: log.WithComponent("events"),
		stopCh: make(chan struct{}),
	}
}

// Start begins draining the event stream in the background.
func (s *Subscriber) Start(ctx context.Context) {
	events, errs := s.rt.Events(ctx, map[string]string{})
	go s.run(events, errs)
}

// Stop ends the subscriber's run loop.
func (s *Subscriber) Stop() {
	close(s.stopCh)
}

func (s *Subscriber) run(events <-chan runtime.RuntimeEvent, errs <-chan error) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.dispatch(ev)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				s.logger.Warn().Err(err).Msg("event stream reported an error")
			}
		case <-s.stopCh:
			return
		}
	}
}

// dispatch filters an event to status ∈ {die, start}, resolves its
// owning pool and reqid from actor attributes, and hands it off. A
// missing label is logged and the event is skipped, never fatal.
func (s *Subscriber) dispatch(ev runtime.RuntimeEvent) {
	if ev.Status != "die" && ev.Status != "start" {
		return
	}

	poolName, ok := ev.Attrs[s.labels.Pool]
	if !ok || poolName == "" {
		s.logger.Debug().Str("container", ev.Actor).Msg("event missing pool label, skipping")
		return
	}
	p, ok := s.pools[poolName]
	if !ok {
		s.logger.Warn().Str("pool", poolName).Str("container", ev.Actor).Msg("event references unknown pool, skipping")
		return
	}

	reqid, ok := ev.Attrs[s.labels.Request]
	if !ok || reqid == "" {
		s.logger.Warn().Str("pool", poolName).Str("container", ev.Actor).Msg("event missing reqid label, skipping")
		return
	}

	deferred := ev.Attrs[s.labels.Deferred] == "1"
	ctx := context.Background()

	switch ev.Status {
	case "die":
		p.HandleDieEvent(ctx, reqid, ev.ExitCode, deferred)
	case "start":
		p.HandleStartEvent(ctx, reqid, deferred)
	}
}
