package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fake is an in-memory Runtime used by pkg/engine, pkg/pool and
// pkg/reconciler tests. It never touches a real Docker daemon.
type Fake struct {
	mu sync.Mutex

	images     map[string]ImageInfo
	history    map[string][]string
	containers map[string]*fakeContainer
	networks   map[string]*fakeNetwork
	volumes    map[string]map[string]string // name -> labels

	subscribers []chan RuntimeEvent
}

type fakeContainer struct {
	id      string
	spec    ContainerCreateSpec
	running bool
}

type fakeNetwork struct {
	id      string
	name    string
	labels  map[string]string
	members map[string]bool
}

// NewFake returns an empty fake runtime.
func NewFake() *Fake {
	return &Fake{
		images:     make(map[string]ImageInfo),
		history:    make(map[string][]string),
		containers: make(map[string]*fakeContainer),
		networks:   make(map[string]*fakeNetwork),
		volumes:    make(map[string]map[string]string),
	}
}

// SeedImage registers an image so GetImage/ImageHistory return it.
func (f *Fake) SeedImage(ref string, labels map[string]string, history []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = ImageInfo{ID: "sha256:" + ref, Labels: labels}
	f.history[ref] = history
}

func (f *Fake) GetImage(ctx context.Context, ref string) (ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.images[ref]; ok {
		return info, nil
	}
	return ImageInfo{ID: "sha256:" + ref}, nil
}

func (f *Fake) ImageHistory(ctx context.Context, ref string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[ref], nil
}

func (f *Fake) CreateContainer(ctx context.Context, spec ContainerCreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "c-" + uuid.NewString()[:8]
	f.containers[id] = &fakeContainer{id: id, spec: spec}
	if spec.NetworkName != "" {
		if n, ok := f.networkByName(spec.NetworkName); ok {
			n.members[id] = true
		}
	}
	return id, nil
}

func (f *Fake) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container %s", id)
	}
	c.running = true
	f.emit(RuntimeEvent{Status: "start", Actor: id, Attrs: c.spec.Labels})
	return nil
}

func (f *Fake) InspectContainer(ctx context.Context, id string) (ContainerInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return ContainerInspect{}, fmt.Errorf("no such container %s", id)
	}
	ips := make(map[string]string)
	var primary string
	for _, n := range f.networks {
		if n.members[id] {
			ip := fmt.Sprintf("10.88.%d.%d", len(n.members)%256, len(ips)+2)
			ips[n.name] = ip
			primary = ip
		}
	}
	ports := make(map[string]int)
	i := 0
	for canonical := range c.spec.Ports {
		ports[canonical] = 30000 + i
		i++
	}
	return ContainerInspect{ID: id, Running: c.running, IP: primary, IPs: ips, Ports: ports}, nil
}

func (f *Fake) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	f.mu.Lock()
	c, ok := f.containers[id]
	if ok {
		c.running = false
	}
	f.mu.Unlock()
	if ok {
		f.emit(RuntimeEvent{Status: "die", Actor: id, ExitCode: 0, Attrs: c.spec.Labels})
	}
	return nil
}

func (f *Fake) KillContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	c, ok := f.containers[id]
	if ok {
		c.running = false
	}
	f.mu.Unlock()
	if ok {
		f.emit(RuntimeEvent{Status: "die", Actor: id, ExitCode: 137, Attrs: c.spec.Labels})
	}
	return nil
}

func (f *Fake) RemoveContainer(ctx context.Context, id string, removeVolumes bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	for _, n := range f.networks {
		delete(n.members, id)
	}
	return nil
}

func (f *Fake) ListContainers(ctx context.Context, labelFilters map[string]string) ([]ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerSummary
	for _, c := range f.containers {
		if matchLabels(c.spec.Labels, labelFilters) {
			out = append(out, ContainerSummary{ID: c.id, Labels: c.spec.Labels})
		}
	}
	return out, nil
}

func (f *Fake) CreateNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "n-" + uuid.NewString()[:8]
	f.networks[id] = &fakeNetwork{id: id, name: name, labels: labels, members: make(map[string]bool)}
	return id, nil
}

func (f *Fake) ConnectNetwork(ctx context.Context, networkID, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[networkID]
	if !ok {
		return fmt.Errorf("no such network %s", networkID)
	}
	n.members[containerID] = true
	return nil
}

func (f *Fake) DisconnectNetwork(ctx context.Context, networkID, containerID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.networks[networkID]; ok {
		delete(n.members, containerID)
	}
	return nil
}

func (f *Fake) RemoveNetwork(ctx context.Context, networkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[networkID]
	if !ok {
		return nil
	}
	if len(n.members) > 0 {
		return fmt.Errorf("network %s has active endpoints", networkID)
	}
	delete(f.networks, networkID)
	return nil
}

func (f *Fake) ListNetworks(ctx context.Context, labelFilters map[string]string) ([]NetworkSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []NetworkSummary
	for _, n := range f.networks {
		if matchLabels(n.labels, labelFilters) {
			members := make([]string, 0, len(n.members))
			for id := range n.members {
				members = append(members, id)
			}
			out = append(out, NetworkSummary{ID: n.id, Name: n.name, Labels: n.labels, Members: members})
		}
	}
	return out, nil
}

func (f *Fake) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[name] = labels
	return nil
}

func (f *Fake) ListVolumes(ctx context.Context, labelFilters map[string]string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name, labels := range f.volumes {
		if matchLabels(labels, labelFilters) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *Fake) PruneVolumes(ctx context.Context, labelFilters map[string]string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []string
	for name, labels := range f.volumes {
		if matchLabels(labels, labelFilters) {
			removed = append(removed, name)
			delete(f.volumes, name)
		}
	}
	return removed, nil
}

// Events returns a subscription; the fake fans every emitted event out
// to every subscriber and applies labelFilters client-side.
func (f *Fake) Events(ctx context.Context, labelFilters map[string]string) (<-chan RuntimeEvent, <-chan error) {
	f.mu.Lock()
	raw := make(chan RuntimeEvent, 64)
	f.subscribers = append(f.subscribers, raw)
	f.mu.Unlock()

	out := make(chan RuntimeEvent)
	errs := make(chan error)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-raw:
				if !ok {
					return
				}
				if matchLabels(ev.Attrs, labelFilters) {
					out <- ev
				}
			}
		}
	}()
	return out, errs
}

func (f *Fake) emit(ev RuntimeEvent) {
	f.mu.Lock()
	subs := append([]chan RuntimeEvent(nil), f.subscribers...)
	f.mu.Unlock()
	for _, s := range subs {
		s <- ev
	}
}

func (f *Fake) networkByName(name string) (*fakeNetwork, bool) {
	for _, n := range f.networks {
		if n.name == name || n.id == name {
			return n, true
		}
	}
	return nil, false
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
