package metrics

import "time"

// PoolStatsProvider is satisfied by pkg/pool.Pool; kept as a narrow
// local interface so this package never imports pkg/pool.
type PoolStatsProvider interface {
	Name() string
	Stats() (running, queued, persisted int)
}

// Collector periodically samples pool gauges for Prometheus scraping.
type Collector struct {
	pools  []PoolStatsProvider
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over the given pools.
func NewCollector(pools []PoolStatsProvider) *Collector {
	return &Collector{
		pools:  pools,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for _, p := range c.pools {
		running, queued, persisted := p.Stats()
		PoolRunning.WithLabelValues(p.Name()).Set(float64(running))
		PoolQueued.WithLabelValues(p.Name()).Set(float64(queued))
		PoolPersisted.WithLabelValues(p.Name()).Set(float64(persisted))
	}
}
