package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/cuemby/flockd/pkg/volume"
)

// Stop requests a graceful stop of every container carrying reqid's
// request label and transitions the record to stopped (spec.md §4.4
// stop()). The record itself is retained so Remove can later tear
// resources down.
func (e *Engine) Stop(ctx context.Context, reqid string, grace time.Duration) *types.Error {
	req, err := e.load(reqid)
	if err != nil {
		return types.NewError(types.ErrInvalidReqID, "failed to load request", nil)
	}
	if req == nil {
		return types.NewError(types.ErrInvalidReqID, "no such request", map[string]any{"reqid": reqid})
	}
	if req.State != types.StateRunning {
		return types.NewError(types.ErrNotRunning, "request is not running", map[string]any{"reqid": reqid})
	}

	containers, listErr := e.rt.ListContainers(ctx, map[string]string{e.labels.Request: reqid})
	if listErr != nil {
		e.logger.Warn().Err(listErr).Str("reqid", reqid).Msg("list containers failed during stop")
	} else {
		var wg sync.WaitGroup
		for _, c := range containers {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if err := e.rt.StopContainer(ctx, id, grace); err != nil {
					e.logger.Warn().Err(err).Str("reqid", reqid).Str("container", id).Msg("stop container failed")
				}
			}(c.ID)
		}
		wg.Wait()
	}

	req.State = types.StateStopped
	if err := e.save(req, 0); err != nil {
		e.logger.Error().Err(err).Str("reqid", reqid).Msg("persist stopped request failed")
	}
	return nil
}

// Remove idempotently tears down every resource carrying reqid's
// request label (spec.md §4.4 remove()).
func (e *Engine) Remove(ctx context.Context, reqid string, keepReqid bool, grace time.Duration, netPool network.Pool) *types.Error {
	req, loadErr := e.load(reqid)
	if loadErr != nil {
		e.logger.Warn().Err(loadErr).Str("reqid", reqid).Msg("load request failed during remove")
	}

	if req != nil && req.Resp != nil {
		for _, info := range req.Resp.Containers {
			if info.IP != "" {
				_ = e.store.Del(coordstore.UserParamsKey(info.IP))
			}
		}
	}

	containers, listErr := e.rt.ListContainers(ctx, map[string]string{e.labels.Request: reqid})
	if listErr != nil {
		e.logger.Warn().Err(listErr).Str("reqid", reqid).Msg("list containers failed during remove")
	}
	var wg sync.WaitGroup
	for _, c := range containers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if grace > 0 {
				if err := e.rt.StopContainer(ctx, id, grace); err != nil {
					e.logger.Warn().Err(err).Str("reqid", reqid).Str("container", id).Msg("stop container failed during remove")
				}
			} else {
				if err := e.rt.KillContainer(ctx, id); err != nil {
					e.logger.Warn().Err(err).Str("reqid", reqid).Str("container", id).Msg("kill container failed during remove")
				}
			}
			if err := e.rt.RemoveContainer(ctx, id, true); err != nil {
				e.logger.Warn().Err(err).Str("reqid", reqid).Str("container", id).Msg("remove container failed during remove")
			}
		}(c.ID)
	}
	wg.Wait()

	if req != nil && req.Net != "" && netPool != nil {
		if ok := netPool.RemoveNetwork(ctx, req.Net); !ok {
			e.logger.Warn().Str("reqid", reqid).Str("network", req.Net).Msg("network release failed, reconciler will retry")
		}
	}

	wantVolumes := 0
	if req != nil {
		wantVolumes = req.NumVolumes
	}
	volume.PruneForRequest(ctx, e.rt, reqid, e.labels.Request, wantVolumes)

	if keepReqid && req != nil {
		req.State = types.StatePaused
		req.Resp = nil
		if err := e.save(req, 0); err != nil {
			e.logger.Error().Err(err).Str("reqid", reqid).Msg("persist kept request failed")
		}
		return nil
	}

	if err := e.store.Del(coordstore.RequestKey(reqid)); err != nil {
		e.logger.Warn().Err(err).Str("reqid", reqid).Msg("delete request record failed")
	}
	if err := e.store.Del(coordstore.RequestPoolKey(reqid)); err != nil {
		e.logger.Warn().Err(err).Str("reqid", reqid).Msg("delete request-pool record failed")
	}
	e.logger.Info().Str("reqid", reqid).Msg("flock removed")
	return nil
}
