package network

import (
	"context"
	"sync"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/log"
	"github.com/cuemby/flockd/pkg/runtime"
)

// CachedPool recycles up to maxSize networks instead of destroying
// them on every removal (spec.md §4.3). Recyclable network ids live in
// the coordination store's n:<pool> set, so the cache survives a
// process restart.
type CachedPool struct {
	inner    *PlainPool
	store    *coordstore.Store
	rt       runtime.Runtime
	poolName string
	labelKey string
	maxSize  int

	mu sync.Mutex
}

// NewCachedPool returns a network pool that recycles up to maxSize networks.
func NewCachedPool(rt runtime.Runtime, store *coordstore.Store, template, poolName, labelKey string, maxSize int) *CachedPool {
	return &CachedPool{
		inner:    NewPlainPool(rt, template, poolName, labelKey),
		store:    store,
		rt:       rt,
		poolName: poolName,
		labelKey: labelKey,
		maxSize:  maxSize,
	}
}

func (c *CachedPool) cacheKey() string { return coordstore.CachedNetworkPoolKey(c.poolName) }

func (c *CachedPool) CreateNetwork(ctx context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		id, ok, err := c.store.SPop(c.cacheKey())
		if err != nil {
			log.WithPool(c.poolName).Warn().Err(err).Msg("pop cached network failed")
			break
		}
		if !ok {
			break
		}

		nets, err := c.rt.ListNetworks(ctx, map[string]string{c.labelKey: c.poolName})
		if err != nil {
			log.WithPool(c.poolName).Warn().Err(err).Msg("list networks failed, falling through to plain create")
			break
		}
		var found *runtime.NetworkSummary
		for i := range nets {
			if nets[i].ID == id {
				found = &nets[i]
				break
			}
		}
		if found == nil || len(found.Members) > 0 {
			// Missing, or still attached somewhere — skip and try the next.
			continue
		}
		return id, true
	}

	return c.inner.CreateNetwork(ctx)
}

func (c *CachedPool) RemoveNetwork(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	card, err := c.store.SCard(c.cacheKey())
	if err != nil {
		log.WithPool(c.poolName).Warn().Err(err).Msg("cache size check failed")
		return c.inner.RemoveNetwork(ctx, id)
	}
	if card >= c.maxSize {
		return c.inner.RemoveNetwork(ctx, id)
	}

	nets, err := c.rt.ListNetworks(ctx, map[string]string{c.labelKey: c.poolName})
	if err != nil {
		log.WithPool(c.poolName).Warn().Err(err).Msg("list networks failed during recycle")
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
		return true
	}
	for _, containerID := range found.Members {
		if err := c.rt.DisconnectNetwork(ctx, id, containerID, true); err != nil {
			log.WithPool(c.poolName).Warn().Err(err).Str("network", id).Msg("disconnect failed during recycle")
			return false
		}
	}
	if err := c.store.SAdd(c.cacheKey(), id); err != nil {
		log.WithPool(c.poolName).Warn().Err(err).Msg("cache network id failed")
		return false
	}
	return true
}

// Shutdown destroys every network left in the cache.
func (c *CachedPool) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		id, ok, err := c.store.SPop(c.cacheKey())
		if err != nil || !ok {
			return
		}
		c.inner.RemoveNetwork(ctx, id)
	}
}
