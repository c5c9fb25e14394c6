package engine

import (
	"context"
	"fmt"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/cuemby/flockd/pkg/volume"
)

// Start materialises reqid's flock: a network, its declared volumes,
// and every container in spec order (spec.md §4.4 start()).
func (e *Engine) Start(ctx context.Context, reqid string, labels map[string]string, environ map[string]string, autoRemove bool, netPool network.Pool) (*types.LaunchResponse, *types.Error) {
	req, err := e.load(reqid)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidReqID, "failed to load request", nil)
	}
	if req == nil {
		return nil, types.NewError(types.ErrInvalidReqID, "no such request", map[string]any{"reqid": reqid})
	}
	if req.State == types.StateStopped {
		return nil, types.NewError(types.ErrNotRunning, "request already stopped", map[string]any{"reqid": reqid})
	}
	if req.Resp != nil {
		// Idempotent start: a cached response always wins.
		return req.Resp, nil
	}

	spec, ok := e.specs.Get(req.Flock)
	if !ok {
		return nil, types.NewError(types.ErrInvalidFlock, "flock spec no longer exists", map[string]any{"flock": req.Flock})
	}

	if req.Environ == nil {
		req.Environ = map[string]string{}
	}
	for k, v := range environ {
		req.Environ[k] = v
	}

	containerLabels := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		containerLabels[k] = v
	}
	containerLabels[e.labels.Request] = reqid

	req.State = types.StateRunning
	req.AutoRemove = autoRemove

	netID, ok := netPool.CreateNetwork(ctx)
	if !ok {
		e.Remove(ctx, reqid, false, 0, netPool)
		return nil, types.NewError(types.ErrStartError, "failed to acquire network", nil)
	}
	req.Net = netID

	if err := volume.CreateAll(ctx, e.rt, spec.Volumes, reqid, e.labels.Request); err != nil {
		e.logger.Error().Err(err).Str("reqid", reqid).Msg("create volumes failed")
		e.Remove(ctx, reqid, false, 0, netPool)
		return nil, types.NewError(types.ErrStartError, "failed to create volumes", map[string]any{"details": err.Error()})
	}

	containers := make(map[string]types.ContainerInfo, len(spec.Containers))
	for _, c := range spec.Containers {
		deferred := c.Deferred
		if explicit, ok := req.Deferred[c.Name]; ok {
			deferred = explicit
		}

		image := c.Image
		if override, ok := req.Overrides[c.Name]; ok {
			image = override
		}

		if deferred {
			containers[c.Name] = types.ContainerInfo{Image: image, Deferred: true}
			continue
		}

		info, err := e.startContainer(ctx, c, image, reqid, netID, req.Environ, containerLabels, req.UserParams)
		if err != nil {
			e.logger.Error().Err(err).Str("reqid", reqid).Str("container", c.Name).Msg("start container failed")
			e.Remove(ctx, reqid, false, 0, netPool)
			return nil, types.NewError(types.ErrStartError, "failed to start container", map[string]any{"container": c.Name, "details": err.Error()})
		}
		containers[c.Name] = info
	}

	resp := &types.LaunchResponse{Containers: containers, Network: netID}
	req.Resp = resp

	if err := e.save(req, 0); err != nil {
		e.logger.Error().Err(err).Str("reqid", reqid).Msg("persist running request failed")
	}

	e.logger.Info().Str("reqid", reqid).Str("flock", req.Flock).Msg("flock started")
	return resp, nil
}

// startContainer creates, starts, and (if declared) cross-attaches one
// non-deferred container, returning its ContainerInfo. If c declares
// set_user_params, the request's user params are published to the
// up:<ip> side table (spec.md line 36) once the container's IP is known.
func (e *Engine) startContainer(ctx context.Context, c types.ContainerSpec, image, reqid, networkName string, baseEnviron, labels, userParams map[string]string) (types.ContainerInfo, error) {
	env := make(map[string]string, len(c.Environment)+len(baseEnviron))
	for k, v := range c.Environment {
		env[k] = v
	}
	for k, v := range baseEnviron {
		env[k] = v
	}

	ports := make(map[string]int, len(c.Ports))
	canonicalByName := make(map[string]string, len(c.Ports))
	for name, raw := range c.Ports {
		canonical, _, _, err := normalizePort(raw)
		if err != nil {
			return types.ContainerInfo{}, err
		}
		ports[canonical] = 0
		canonicalByName[name] = canonical
	}

	shmBytes, err := parseShmSize(c.ShmSize)
	if err != nil {
		return types.ContainerInfo{}, err
	}

	id, err := e.rt.CreateContainer(ctx, runtime.ContainerCreateSpec{
		Name:        fmt.Sprintf("%s-%s", c.Name, reqid),
		Image:       image,
		Env:         env,
		Labels:      labels,
		Ports:       ports,
		ShmSize:     shmBytes,
		NetworkName: networkName,
	})
	if err != nil {
		return types.ContainerInfo{}, fmt.Errorf("create container %s: %w", c.Name, err)
	}

	if err := e.rt.StartContainer(ctx, id); err != nil {
		return types.ContainerInfo{}, fmt.Errorf("start container %s: %w", c.Name, err)
	}

	if c.ExternalNetwork != "" {
		if err := e.rt.ConnectNetwork(ctx, c.ExternalNetwork, id); err != nil {
			return types.ContainerInfo{}, fmt.Errorf("connect %s to external network %s: %w", c.Name, c.ExternalNetwork, err)
		}
	}

	insp, err := e.rt.InspectContainer(ctx, id)
	if err != nil {
		return types.ContainerInfo{}, fmt.Errorf("inspect container %s: %w", c.Name, err)
	}

	ip := insp.IP
	if c.ExternalNetwork != "" {
		if extIP, ok := insp.IPs[c.ExternalNetwork]; ok {
			ip = extIP
		}
	}

	portsOut := make(map[string]int, len(canonicalByName))
	for name, canonical := range canonicalByName {
		portsOut[name] = insp.Ports[canonical]
	}

	if c.SetUserParams && ip != "" {
		for k, v := range userParams {
			if err := e.store.HSet(coordstore.UserParamsKey(ip), k, v); err != nil {
				e.logger.Warn().Err(err).Str("reqid", reqid).Str("container", c.Name).Msg("publish user params failed")
			}
		}
	}

	info := types.ContainerInfo{
		ID:      shortID(id),
		IP:      ip,
		Ports:   portsOut,
		Environ: env,
		Image:   image,
	}
	// Empty maps are dropped by the JSON round trip of the cached
	// response, so they are returned as nil here too.
	if len(info.Ports) == 0 {
		info.Ports = nil
	}
	if len(info.Environ) == 0 {
		info.Environ = nil
	}
	return info, nil
}

// StartDeferredContainer starts a container that start() left
// undeployed, updating the cached response in place (spec.md §4.4
// start_deferred_container()).
func (e *Engine) StartDeferredContainer(ctx context.Context, reqid, containerName string, labels map[string]string) (*types.ContainerInfo, *types.Error) {
	req, err := e.load(reqid)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidReqID, "failed to load request", nil)
	}
	if req == nil {
		return nil, types.NewError(types.ErrInvalidReqID, "no such request", map[string]any{"reqid": reqid})
	}
	if req.State != types.StateRunning {
		return nil, types.NewError(types.ErrFlockNotRunning, "flock is not running", map[string]any{"reqid": reqid})
	}
	if req.Resp == nil {
		return nil, types.NewError(types.ErrInvalidDeferred, "no cached response for request", nil)
	}
	info, ok := req.Resp.Containers[containerName]
	if !ok {
		return nil, types.NewError(types.ErrInvalidDeferred, "container is not deferred", map[string]any{"container": containerName})
	}

	spec, ok := e.specs.Get(req.Flock)
	if !ok {
		return nil, types.NewError(types.ErrInvalidFlock, "flock spec no longer exists", map[string]any{"flock": req.Flock})
	}
	var cspec *types.ContainerSpec
	for i := range spec.Containers {
		if spec.Containers[i].Name == containerName {
			cspec = &spec.Containers[i]
			break
		}
	}
	if cspec == nil {
		return nil, types.NewError(types.ErrInvalidDeferred, "container not declared in flock spec", map[string]any{"container": containerName})
	}
	deferred := cspec.Deferred
	if explicit, ok := req.Deferred[containerName]; ok {
		deferred = explicit
	}
	if !deferred {
		return nil, types.NewError(types.ErrInvalidDeferred, "container is not deferred", map[string]any{"container": containerName})
	}
	if info.ID != "" {
		// Already started: repeating the call is idempotent.
		return &info, nil
	}

	containerLabels := make(map[string]string, len(labels)+2)
	for k, v := range labels {
		containerLabels[k] = v
	}
	containerLabels[e.labels.Request] = reqid
	containerLabels[e.labels.Deferred] = "1"

	started, startErr := e.startContainer(ctx, *cspec, info.Image, reqid, req.Net, req.Environ, containerLabels, req.UserParams)
	if startErr != nil {
		return nil, types.NewError(types.ErrStartError, "failed to start deferred container", map[string]any{"container": containerName, "details": startErr.Error()})
	}

	req.Resp.Containers[containerName] = started
	if err := e.save(req, 0); err != nil {
		e.logger.Error().Err(err).Str("reqid", reqid).Msg("persist deferred container start failed")
	}
	return &started, nil
}

// shortID returns the conventional 12-hex-character container id prefix.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
