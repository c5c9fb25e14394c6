// Package poolconfig loads the pool-topology YAML (spec.md §6.5) that
// tells flockd which scheduler pools to run and how each is shaped.
package poolconfig

import (
	"fmt"
	"os"

	"github.com/cuemby/flockd/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the top-level pool configuration document.
type Config struct {
	DefaultPool string             `yaml:"default_pool"`
	Pools       []types.PoolConfig `yaml:"pools"`
}

// Load reads and validates a pool configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pool config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pool config %s: %w", path, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Pools) == 0 {
		return fmt.Errorf("pool config: at least one pool is required")
	}

	seen := make(map[string]bool, len(cfg.Pools))
	for i, p := range cfg.Pools {
		if p.Name == "" {
			return fmt.Errorf("pool config: pool at index %d is missing a name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("pool config: duplicate pool name %q", p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case types.PoolKindAll, types.PoolKindFixed, types.PoolKindPersist:
		default:
			return fmt.Errorf("pool %q: unknown type %q", p.Name, p.Type)
		}
		if p.Duration <= 0 {
			return fmt.Errorf("pool %q: duration must be positive", p.Name)
		}
		if (p.Type == types.PoolKindFixed || p.Type == types.PoolKindPersist) && p.MaxSize <= 0 {
			return fmt.Errorf("pool %q: max_size must be positive for type %q", p.Name, p.Type)
		}
	}

	if cfg.DefaultPool != "" && !seen[cfg.DefaultPool] {
		return fmt.Errorf("pool config: default_pool %q is not one of the configured pools", cfg.DefaultPool)
	}
	return nil
}

// Get returns the named pool's config.
func (c *Config) Get(name string) (types.PoolConfig, bool) {
	for _, p := range c.Pools {
		if p.Name == name {
			return p, true
		}
	}
	return types.PoolConfig{}, false
}
