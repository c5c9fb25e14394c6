// Package network creates and recycles the per-flock Docker networks
// that isolate each running flock's containers (spec.md §4.3).
package network

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cuemby/flockd/pkg/log"
	"github.com/cuemby/flockd/pkg/runtime"
)

const randomSuffixLen = 8

const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

// Pool creates and retires the per-flock networks for one scheduler
// pool. CreateNetwork/RemoveNetwork never return an error the caller
// must act on: a false result just means "let the reconciler handle
// it" (spec.md §4.3, §7).
type Pool interface {
	CreateNetwork(ctx context.Context) (id string, ok bool)
	RemoveNetwork(ctx context.Context, id string) bool
	Shutdown(ctx context.Context)
}

// PlainPool always creates a fresh network and always destroys it on
// removal.
type PlainPool struct {
	rt       runtime.Runtime
	template string
	poolName string
	labelKey string
}

// NewPlainPool returns a network pool that never recycles.
func NewPlainPool(rt runtime.Runtime, template, poolName, labelKey string) *PlainPool {
	return &PlainPool{rt: rt, template: template, poolName: poolName, labelKey: labelKey}
}

func (p *PlainPool) CreateNetwork(ctx context.Context) (string, bool) {
	name := fmt.Sprintf("%s-%s", p.template, randomSuffix())
	id, err := p.rt.CreateNetwork(ctx, name, map[string]string{p.labelKey: p.poolName})
	if err != nil {
		log.WithPool(p.poolName).Warn().Err(err).Str("network", name).Msg("create network failed")
		return "", false
	}
	return id, true
}

func (p *PlainPool) RemoveNetwork(ctx context.Context, id string) bool {
	return destroyNetwork(ctx, p.rt, p.poolName, p.labelKey, id)
}

func (p *PlainPool) Shutdown(ctx context.Context) {}

// destroyNetwork verifies the network still carries the pool's label,
// disconnects every member, and removes it. Returns false (never an
// error the caller must act on) on any failure.
func destroyNetwork(ctx context.Context, rt runtime.Runtime, poolName, labelKey, id string) bool {
	nets, err := rt.ListNetworks(ctx, map[string]string{labelKey: poolName})
	if err != nil {
		log.WithPool(poolName).Warn().Err(err).Msg("list networks failed during removal")
		return false
	}
	var found *runtime.NetworkSummary
	for i := range nets {
		if nets[i].ID == id {
			found = &nets[i]
			break
		}
	}
	if found == nil {
		// Already gone, or never labeled for this pool — nothing to do.
		return true
	}

	for _, containerID := range found.Members {
		if err := rt.DisconnectNetwork(ctx, id, containerID, true); err != nil {
			log.WithPool(poolName).Warn().Err(err).Str("network", id).Str("container", containerID).Msg("disconnect member failed")
			return false
		}
	}
	if err := rt.RemoveNetwork(ctx, id); err != nil {
		log.WithPool(poolName).Warn().Err(err).Str("network", id).Msg("remove network failed")
		return false
	}
	return true
}

func randomSuffix() string {
	b := make([]byte, randomSuffixLen)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
