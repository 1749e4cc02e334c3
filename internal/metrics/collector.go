// Package metrics exposes churn state as Prometheus metrics.
package metrics

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/internal/churn"
	"github.com/churnwatch/churnwatch/internal/countdown"
	"github.com/churnwatch/churnwatch/pkg/logger"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "churnwatch"

// Collector mirrors snapshots into a private Prometheus registry.
type Collector struct {
	registry *prometheus.Registry
	logger   *logger.Logger
	now      func() time.Time

	currentHeight   prometheus.Gauge
	nextChurnHeight prometheus.Gauge
	churnInterval   prometheus.Gauge
	avgBlockSeconds prometheus.Gauge
	blocksUntil     prometheus.Gauge
	progress        prometheus.Gauge
	connected       prometheus.Gauge

	mu         sync.RWMutex
	reconnects uint64
	observed   bool
	lastUpdate time.Time
}

// NewCollector registers the churn metrics under namespace.
func NewCollector(namespace string, logger *logger.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		now:      time.Now,

		currentHeight:   gauge("current_block_height", "Latest block height seen on the feed"),
		nextChurnHeight: gauge("next_churn_height", "Block height of the next churn, 0 when unknown"),
		churnInterval:   gauge("churn_interval_blocks", "Blocks between churns"),
		avgBlockSeconds: gauge("average_block_seconds", "Rolling average block time in seconds"),
		blocksUntil:     gauge("blocks_until_churn", "Blocks remaining until the next churn"),
		progress:        gauge("churn_progress_ratio", "Completed fraction of the churn interval"),
		connected:       gauge("feed_connected", "1 while the new-block subscription is live"),
	}

	reconnects := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Feed reconnects since start",
	}, func() float64 {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return float64(c.reconnects)
	})

	c.registry.MustRegister(
		c.currentHeight,
		c.nextChurnHeight,
		c.churnInterval,
		c.avgBlockSeconds,
		c.blocksUntil,
		c.progress,
		c.connected,
		reconnects,
	)

	return c
}

// Registry returns the registry backing the collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe updates every metric from snap.
func (c *Collector) Observe(snap churn.Snapshot) {
	cd := countdown.Compute(snap.CurrentBlockHeight, snap.NextChurnHeight,
		snap.ChurnIntervalBlocks, snap.AverageBlockSeconds, c.now())

	c.currentHeight.Set(float64(snap.CurrentBlockHeight))
	c.nextChurnHeight.Set(float64(snap.NextChurnHeight))
	c.churnInterval.Set(float64(snap.ChurnIntervalBlocks))
	c.avgBlockSeconds.Set(snap.AverageBlockSeconds)
	if cd.Known {
		c.blocksUntil.Set(float64(cd.BlocksRemaining))
		c.progress.Set(cd.Progress)
	} else {
		c.blocksUntil.Set(math.NaN())
		c.progress.Set(math.NaN())
	}
	if snap.Connected {
		c.connected.Set(1)
	} else {
		c.connected.Set(0)
	}

	c.mu.Lock()
	c.reconnects = snap.Reconnects
	c.observed = true
	c.lastUpdate = c.now()
	c.mu.Unlock()
}

// Ready reports whether at least one snapshot has been observed
func (c *Collector) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.observed
}

// LastUpdate returns when Observe last ran
func (c *Collector) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Run observes snapshots until ctx is done or updates is closed.
func (c *Collector) Run(ctx context.Context, updates <-chan churn.Snapshot) {
	c.logger.Debug("metrics collection started")
	defer c.logger.Debug("metrics collection stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			c.Observe(snap)
			c.logger.Debug("metrics updated",
				zap.Int64("height", snap.CurrentBlockHeight),
				zap.Uint64("generation", snap.Generation))
		}
	}
}
