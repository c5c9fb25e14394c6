// Package runtime wraps the container-runtime operations the flock
// engine needs (spec.md §6.1): images, containers, networks, volumes
// and a label-filtered event stream. DockerRuntime is the production
// implementation, over github.com/docker/docker/client; Fake is an
// in-memory implementation used by pkg/engine and pkg/pool tests.
package runtime

import (
	"context"
	"time"
)

// ImageInfo is the subset of image metadata the engine needs to
// validate an override.
type ImageInfo struct {
	ID     string
	Labels map[string]string
}

// ContainerCreateSpec is everything CreateContainer needs to create
// (but not start) one container.
type ContainerCreateSpec struct {
	Name        string
	Image       string
	Env         map[string]string
	Labels      map[string]string
	Ports       map[string]int // "<num>/<proto>" -> 0 (publish on random host port)
	ShmSize     int64          // bytes, 0 means runtime default
	NetworkName string         // network to attach at creation time
}

// ContainerInspect is the subset of live container state the engine
// reads back after starting a container.
type ContainerInspect struct {
	ID      string
	Running bool
	IP      string // on one of the attached networks (which one is unspecified when there are several)
	IPs     map[string]string // network name -> IP, for external_network lookups
	Ports   map[string]int    // "<num>/<proto>" -> host port
}

// ContainerSummary is one row of ListContainers.
type ContainerSummary struct {
	ID     string
	Labels map[string]string
}

// NetworkSummary is one row of ListNetworks.
type NetworkSummary struct {
	ID      string
	Name    string
	Labels  map[string]string
	Members []string // container ids currently attached
}

// RuntimeEvent is one item off the filtered event stream (spec.md §4.6).
type RuntimeEvent struct {
	Status   string // "die" | "start"
	Actor    string // container id
	ExitCode int    // valid when Status == "die"
	Attrs    map[string]string
}

// Runtime is the container-runtime interface the engine, network pool
// and reconciler depend on.
type Runtime interface {
	GetImage(ctx context.Context, ref string) (ImageInfo, error)
	ImageHistory(ctx context.Context, ref string) ([]string, error)

	CreateContainer(ctx context.Context, spec ContainerCreateSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (ContainerInspect, error)
	StopContainer(ctx context.Context, id string, grace time.Duration) error
	KillContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string, removeVolumes bool) error
	ListContainers(ctx context.Context, labelFilters map[string]string) ([]ContainerSummary, error)

	CreateNetwork(ctx context.Context, name string, labels map[string]string) (string, error)
	ConnectNetwork(ctx context.Context, networkID, containerID string) error
	DisconnectNetwork(ctx context.Context, networkID, containerID string, force bool) error
	RemoveNetwork(ctx context.Context, networkID string) error
	ListNetworks(ctx context.Context, labelFilters map[string]string) ([]NetworkSummary, error)

	CreateVolume(ctx context.Context, name string, labels map[string]string) error
	ListVolumes(ctx context.Context, labelFilters map[string]string) ([]string, error)
	PruneVolumes(ctx context.Context, labelFilters map[string]string) ([]string, error)

	Events(ctx context.Context, labelFilters map[string]string) (<-chan RuntimeEvent, <-chan error)
}
