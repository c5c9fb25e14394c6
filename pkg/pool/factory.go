package pool

import (
	"fmt"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/engine"
	"github.com/cuemby/flockd/pkg/network"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/cuemby/flockd/pkg/types"
)

// New builds the Pool for cfg's configured kind, wiring up its own
// network pool (cached when NetworkPoolSize > 0, plain otherwise).
func New(cfg types.PoolConfig, eng *engine.Engine, store *coordstore.Store, rt runtime.Runtime, labels types.Labels) (Pool, error) {
	var netPool network.Pool
	if cfg.NetworkPoolSize > 0 {
		netPool = network.NewCachedPool(rt, store, "flock-net", cfg.Name, labels.Network, cfg.NetworkPoolSize)
	} else {
		netPool = network.NewPlainPool(rt, "flock-net", cfg.Name, labels.Network)
	}

	switch cfg.Type {
	case types.PoolKindAll:
		return NewLaunchAllPool(cfg, eng, store, netPool, labels), nil
	case types.PoolKindFixed:
		return NewFixedSizePool(cfg, eng, store, netPool, labels), nil
	case types.PoolKindPersist:
		return NewPersistentPool(cfg, eng, store, netPool, labels), nil
	default:
		return nil, fmt.Errorf("unknown pool type %q for pool %q", cfg.Type, cfg.Name)
	}
}
