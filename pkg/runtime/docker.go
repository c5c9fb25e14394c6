package runtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// DockerRuntime implements Runtime against a live Docker Engine API
// endpoint via github.com/docker/docker/client.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime dials the Docker daemon using the standard
// DOCKER_HOST/DOCKER_CERT_PATH/DOCKER_TLS_VERIFY environment, the same
// way the Docker CLI itself resolves a host.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dial docker daemon: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

func (r *DockerRuntime) GetImage(ctx context.Context, ref string) (ImageInfo, error) {
	inspect, _, err := r.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("inspect image %s: %w", ref, err)
	}
	return ImageInfo{ID: inspect.ID, Labels: inspect.Config.Labels}, nil
}

func (r *DockerRuntime) ImageHistory(ctx context.Context, ref string) ([]string, error) {
	hist, err := r.cli.ImageHistory(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("image history %s: %w", ref, err)
	}
	// hist is top-first (the image itself is hist[0]); the engine wants
	// base-to-top so ancestry checks can walk from FROM down.
	out := make([]string, len(hist))
	for i, layer := range hist {
		out[len(hist)-1-i] = layer.ID
	}
	return out, nil
}

func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerCreateSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	exposed := make(nat.PortSet, len(spec.Ports))
	bindings := make(nat.PortMap, len(spec.Ports))
	for containerPort := range spec.Ports {
		proto, port := nat.SplitProtoPort(containerPort)
		p, err := nat.NewPort(proto, port)
		if err != nil {
			return "", fmt.Errorf("invalid container port %s: %w", containerPort, err)
		}
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}}
	}

	var netConfig *network.NetworkingConfig
	if spec.NetworkName != "" {
		netConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.NetworkName: {},
			},
		}
	}

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Env:          env,
			Labels:       spec.Labels,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			PortBindings: bindings,
			ShmSize:      spec.ShmSize,
		},
		netConfig,
		nil,
		spec.Name,
	)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

func (r *DockerRuntime) InspectContainer(ctx context.Context, id string) (ContainerInspect, error) {
	j, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerInspect{}, fmt.Errorf("inspect container %s: %w", id, err)
	}

	ips := make(map[string]string)
	var primaryIP string
	if j.NetworkSettings != nil {
		for name, ep := range j.NetworkSettings.Networks {
			ips[name] = ep.IPAddress
			primaryIP = ep.IPAddress
		}
	}

	ports := make(map[string]int)
	if j.NetworkSettings != nil {
		for containerPort, bindings := range j.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			var hostPort int
			fmt.Sscanf(bindings[0].HostPort, "%d", &hostPort)
			ports[string(containerPort)] = hostPort
		}
	}

	return ContainerInspect{
		ID:      j.ID,
		Running: j.State != nil && j.State.Running,
		IP:      primaryIP,
		IPs:     ips,
		Ports:   ports,
	}, nil
}

func (r *DockerRuntime) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	secs := int(grace.Seconds())
	if err := r.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

func (r *DockerRuntime) KillContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerKill(ctx, id, "KILL"); err != nil {
		return fmt.Errorf("kill container %s: %w", id, err)
	}
	return nil
}

func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string, removeVolumes bool) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: removeVolumes,
	})
	if err != nil {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

func (r *DockerRuntime) ListContainers(ctx context.Context, labelFilters map[string]string) ([]ContainerSummary, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: labelFilterArgs(labelFilters),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	out := make([]ContainerSummary, len(list))
	for i, c := range list {
		out[i] = ContainerSummary{ID: c.ID, Labels: c.Labels}
	}
	return out, nil
}

func (r *DockerRuntime) CreateNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	resp, err := r.cli.NetworkCreate(ctx, name, network.CreateOptions{Labels: labels})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", name, err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) ConnectNetwork(ctx context.Context, networkID, containerID string) error {
	if err := r.cli.NetworkConnect(ctx, networkID, containerID, nil); err != nil {
		return fmt.Errorf("connect %s to network %s: %w", containerID, networkID, err)
	}
	return nil
}

func (r *DockerRuntime) DisconnectNetwork(ctx context.Context, networkID, containerID string, force bool) error {
	if err := r.cli.NetworkDisconnect(ctx, networkID, containerID, force); err != nil {
		return fmt.Errorf("disconnect %s from network %s: %w", containerID, networkID, err)
	}
	return nil
}

func (r *DockerRuntime) RemoveNetwork(ctx context.Context, networkID string) error {
	if err := r.cli.NetworkRemove(ctx, networkID); err != nil {
		return fmt.Errorf("remove network %s: %w", networkID, err)
	}
	return nil
}

func (r *DockerRuntime) ListNetworks(ctx context.Context, labelFilters map[string]string) ([]NetworkSummary, error) {
	list, err := r.cli.NetworkList(ctx, network.ListOptions{Filters: labelFilterArgs(labelFilters)})
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	out := make([]NetworkSummary, len(list))
	for i, n := range list {
		members := make([]string, 0, len(n.Containers))
		for id := range n.Containers {
			members = append(members, id)
		}
		out[i] = NetworkSummary{ID: n.ID, Name: n.Name, Labels: n.Labels, Members: members}
	}
	return out, nil
}

func (r *DockerRuntime) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	_, err := r.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: labels})
	if err != nil {
		return fmt.Errorf("create volume %s: %w", name, err)
	}
	return nil
}

func (r *DockerRuntime) ListVolumes(ctx context.Context, labelFilters map[string]string) ([]string, error) {
	resp, err := r.cli.VolumeList(ctx, volume.ListOptions{Filters: labelFilterArgs(labelFilters)})
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	out := make([]string, len(resp.Volumes))
	for i, v := range resp.Volumes {
		out[i] = v.Name
	}
	return out, nil
}

func (r *DockerRuntime) PruneVolumes(ctx context.Context, labelFilters map[string]string) ([]string, error) {
	report, err := r.cli.VolumesPrune(ctx, labelFilterArgs(labelFilters))
	if err != nil {
		return nil, fmt.Errorf("prune volumes: %w", err)
	}
	return report.VolumesDeleted, nil
}

func (r *DockerRuntime) Events(ctx context.Context, labelFilters map[string]string) (<-chan RuntimeEvent, <-chan error) {
	args := labelFilterArgs(labelFilters)
	args.Add("type", string(events.ContainerEventType))

	rawEvents, rawErrs := r.cli.Events(ctx, events.ListOptions{Filters: args})

	out := make(chan RuntimeEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-rawErrs:
				if !ok {
					return
				}
				if err != nil && err != io.EOF {
					errs <- err
				}
				return
			case ev, ok := <-rawEvents:
				if !ok {
					return
				}
				exitCode := 0
				if code, present := ev.Actor.Attributes["exitCode"]; present {
					fmt.Sscanf(code, "%d", &exitCode)
				}
				out <- RuntimeEvent{
					Status:   string(ev.Action),
					Actor:    ev.Actor.ID,
					ExitCode: exitCode,
					Attrs:    ev.Actor.Attributes,
				}
			}
		}
	}()

	return out, errs
}

func labelFilterArgs(labelFilters map[string]string) filters.Args {
	args := filters.NewArgs()
	for k, v := range labelFilters {
		args.Add("label", fmt.Sprintf("%s=%s", k, v))
	}
	return args
}
