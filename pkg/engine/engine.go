// Package engine implements the Flock Engine (spec.md §4.4): the
// component that turns a FlockSpec plus per-call overrides into live
// containers, and tears them back down again.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/log"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/cuemby/flockd/pkg/specstore"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/rs/zerolog"
)

const defaultRequestTTL = 120 * time.Second

// Engine materialises and tears down flocks against a container
// runtime, backed by the coordination store for request bookkeeping.
type Engine struct {
	rt     runtime.Runtime
	store  *coordstore.Store
	specs  *specstore.Store
	labels types.Labels
	logger zerolog.Logger
}

// New creates a Flock Engine.
func New(rt runtime.Runtime, store *coordstore.Store, specs *specstore.Store, labels types.Labels) *Engine {
	return &Engine{
		rt:     rt,
		store:  store,
		specs:  specs,
		labels: labels,
		logger: log.WithComponent("engine"),
	}
}

// Request validates opts against the named flock spec, resolves the
// effective image list, and persists a new FlockRequest (spec.md
// §4.4 request()).
func (e *Engine) Request(ctx context.Context, flock string, opts types.RequestOpts) (string, *types.Error) {
	spec, ok := e.specs.Get(flock)
	if !ok {
		return "", types.NewError(types.ErrInvalidFlock, "no such flock", map[string]any{"flock": flock})
	}

	_, imageList, imgErr := e.resolveImages(ctx, spec, opts.Overrides)
	if imgErr != nil {
		return "", imgErr
	}

	reqid, err := newReqID()
	if err != nil {
		return "", types.NewError(types.ErrStartError, "failed to generate reqid", nil)
	}

	req := &types.FlockRequest{
		ID:         reqid,
		Flock:      flock,
		Overrides:  opts.Overrides,
		UserParams: opts.UserParams,
		Environ:    opts.Environ,
		Deferred:   opts.Deferred,
		ImageList:  imageList,
		NumVolumes: len(spec.Volumes),
		State:      types.StateNew,
		AutoRemove: spec.AutoRemove,
	}

	if err := e.save(req, defaultRequestTTL); err != nil {
		return "", types.NewError(types.ErrStartError, "failed to persist request", nil)
	}

	e.logger.Info().Str("reqid", reqid).Str("flock", flock).Msg("flock requested")
	return reqid, nil
}

// resolveImages picks the effective image per container (override or
// spec default) and validates any override against the container's
// declared image_label (spec.md §4.4 resolve_image_list()).
func (e *Engine) resolveImages(ctx context.Context, spec *types.FlockSpec, overrides map[string]string) (map[string]string, []string, *types.Error) {
	images := make(map[string]string, len(spec.Containers))
	imageList := make([]string, 0, len(spec.Containers))

	for _, c := range spec.Containers {
		image := c.Image
		if override, ok := overrides[c.Name]; ok {
			if c.ImageLabel == "" {
				return nil, nil, types.NewError(types.ErrInvalidImageParam, "container does not allow image overrides", map[string]any{
					"image_passed":  override,
					"label_expected": "",
				})
			}
			info, err := e.rt.GetImage(ctx, override)
			if err != nil {
				return nil, nil, types.NewError(types.ErrInvalidImageParam, "override image not found", map[string]any{
					"image_passed":   override,
					"label_expected": c.ImageLabel,
				})
			}
			if !matchesImageLabel(info.Labels, c.ImageLabel) {
				return nil, nil, types.NewError(types.ErrInvalidImageParam, "override image missing required label", map[string]any{
					"image_passed":   override,
					"label_expected": c.ImageLabel,
				})
			}
			image = override
		}
		images[c.Name] = image
		imageList = append(imageList, image)
	}
	return images, imageList, nil
}

// matchesImageLabel checks a "key" (presence) or "key=value" (exact
// match) image_label constraint against an image's labels.
func matchesImageLabel(labels map[string]string, constraint string) bool {
	for i := 0; i < len(constraint); i++ {
		if constraint[i] == '=' {
			key, value := constraint[:i], constraint[i+1:]
			return labels[key] == value
		}
	}
	_, ok := labels[constraint]
	return ok
}

// isDescendant reports whether image a's layer history has image b's
// layer history as a base-to-top prefix (spec.md §4.4 image ancestry
// check).
func (e *Engine) isDescendant(ctx context.Context, a, b string) (bool, error) {
	histA, err := e.rt.ImageHistory(ctx, a)
	if err != nil {
		return false, fmt.Errorf("image history %s: %w", a, err)
	}
	histB, err := e.rt.ImageHistory(ctx, b)
	if err != nil {
		return false, fmt.Errorf("image history %s: %w", b, err)
	}
	if len(histB) > len(histA) {
		return false, nil
	}
	for i, layer := range histB {
		if histA[i] != layer {
			return false, nil
		}
	}
	return true, nil
}

// load reads and JSON-decodes the FlockRequest for reqid, returning
// (nil, nil) if it doesn't exist.
func (e *Engine) load(reqid string) (*types.FlockRequest, error) {
	data, ok, err := e.store.Get(coordstore.RequestKey(reqid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var req types.FlockRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", reqid, err)
	}
	return &req, nil
}

// save JSON-encodes req and stores it with the given ttl (0 = no expiry).
func (e *Engine) save(req *types.FlockRequest, ttl time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", req.ID, err)
	}
	return e.store.Set(coordstore.RequestKey(req.ID), string(data), ttl)
}

// IsValidFlock reports whether reqid's record still exists and,
// when ensureState is non-nil, whether its state matches.
func (e *Engine) IsValidFlock(ctx context.Context, reqid string, ensureState *types.RequestState) (bool, *types.Error) {
	req, err := e.load(reqid)
	if err != nil {
		return false, types.NewError(types.ErrInvalidReqID, "failed to load request", nil)
	}
	if req == nil {
		return false, nil
	}
	if ensureState != nil && req.State != *ensureState {
		return false, nil
	}
	return true, nil
}

// Response returns reqid's cached LaunchResponse, or nil if the
// request exists but hasn't completed a start() yet. Used by pool
// schedulers to serve an already-running reqid's repeated start call.
func (e *Engine) Response(reqid string) (*types.LaunchResponse, *types.Error) {
	req, err := e.load(reqid)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidReqID, "failed to load request", nil)
	}
	if req == nil {
		return nil, types.NewError(types.ErrInvalidReqID, "no such request", map[string]any{"reqid": reqid})
	}
	return req.Resp, nil
}
