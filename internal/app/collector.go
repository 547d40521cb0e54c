package app

import (
	"context"
	"time"

	"gateway/internal/dispatch"
	"gateway/internal/metrics"
)

// collector bridges the pull-style stats snapshots of routes into the
// Prometheus collectors. Gauges are overwritten on every sweep;
// monotonic snapshot counters are converted to counter increments by
// diffing against the previous sweep.
type collector struct {
	metrics *metrics.Metrics
	routes  func() []*dispatch.Route

	lastBackend map[backendKey]uint64
	lastCache   map[string]cacheSeen
}

type backendKey struct {
	route, version, url string
}

type cacheSeen struct {
	hits, misses, evicted uint64
}

func newCollector(m *metrics.Metrics, routes func() []*dispatch.Route) *collector {
	return &collector{
		metrics:     m,
		routes:      routes,
		lastBackend: make(map[backendKey]uint64),
		lastCache:   make(map[string]cacheSeen),
	}
}

func (c *collector) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *collector) sweep() {
	for _, route := range c.routes() {
		stats := route.Stats()
		for version, vs := range stats.Versions {
			for _, b := range vs.Backends {
				healthy := 0.0
				if b.Healthy {
					healthy = 1
				}
				c.metrics.BackendHealthy.WithLabelValues(stats.Name, version, b.URL).Set(healthy)
				c.metrics.CircuitBreakerState.WithLabelValues(stats.Name, b.URL).Set(breakerStateValue(b.BreakerState))

				key := backendKey{stats.Name, version, b.URL}
				if delta := counterDelta(c.lastBackend[key], b.Requests); delta > 0 {
					c.metrics.BackendRequestsTotal.WithLabelValues(stats.Name, version, b.URL).Add(delta)
				}
				c.lastBackend[key] = b.Requests
			}
		}

		if stats.Cache != nil {
			seen := c.lastCache[stats.Name]
			if delta := counterDelta(seen.hits, stats.Cache.Hits); delta > 0 {
				c.metrics.CacheHits.WithLabelValues(stats.Name).Add(delta)
			}
			if delta := counterDelta(seen.misses, stats.Cache.Misses); delta > 0 {
				c.metrics.CacheMisses.WithLabelValues(stats.Name).Add(delta)
			}
			if delta := counterDelta(seen.evicted, stats.Cache.Evicted); delta > 0 {
				c.metrics.CacheEvictions.WithLabelValues(stats.Name).Add(delta)
			}
			c.lastCache[stats.Name] = cacheSeen{
				hits:    stats.Cache.Hits,
				misses:  stats.Cache.Misses,
				evicted: stats.Cache.Evicted,
			}
		}
	}
}

// counterDelta guards against snapshot counters restarting from zero
// after a reload replaces the route's balancers.
func counterDelta(prev, now uint64) float64 {
	if now < prev {
		return float64(now)
	}
	return float64(now - prev)
}

func breakerStateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}
