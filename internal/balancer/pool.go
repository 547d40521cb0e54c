package balancer

import (
	"context"
	"sync"
	"time"
)

// ewmaAlpha is the smoothing factor for the per-backend latency average
const ewmaAlpha = 0.1

// Backend is one upstream URL in a pool, with its health flag and
// request counters.
type Backend struct {
	URL string

	healthy    bool
	requests   uint64
	successes  uint64
	failures   uint64
	avgLatency time.Duration
}

// BackendStats is a point-in-time snapshot of one backend
type BackendStats struct {
	URL        string        `json:"url"`
	Healthy    bool          `json:"healthy"`
	Requests   uint64        `json:"requests"`
	Successes  uint64        `json:"successes"`
	Failures   uint64        `json:"failures"`
	AvgLatency time.Duration `json:"avgLatency"`
}

// Probe checks a single backend URL, returning nil when it is serving
type Probe func(ctx context.Context, url string) error

// Pool is the mutable set of backend URLs for one service version.
// Membership and health change at runtime (discovery, health monitor);
// selection order is owned by the Balancer.
type Pool struct {
	mu       sync.RWMutex
	backends []*Backend
	index    map[string]*Backend
}

// NewPool creates a pool seeded with the given URLs, all healthy
func NewPool(urls []string) *Pool {
	p := &Pool{index: make(map[string]*Backend, len(urls))}
	for _, url := range urls {
		p.add(url)
	}
	return p
}

// Add registers a URL, reporting false if it was already present
func (p *Pool) Add(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.add(url)
}

func (p *Pool) add(url string) bool {
	if _, ok := p.index[url]; ok {
		return false
	}
	b := &Backend{URL: url, healthy: true}
	p.backends = append(p.backends, b)
	p.index[url] = b
	return true
}

// Remove drops a URL from the pool, reporting whether it was present
func (p *Pool) Remove(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.index[url]; !ok {
		return false
	}
	delete(p.index, url)
	for i, b := range p.backends {
		if b.URL == url {
			p.backends = append(p.backends[:i], p.backends[i+1:]...)
			break
		}
	}
	return true
}

// SetHealthy updates the health flag for a URL
func (p *Pool) SetHealthy(url string, healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.index[url]; ok {
		b.healthy = healthy
	}
}

// Healthy reports the health flag for a URL; unknown URLs are unhealthy
func (p *Pool) Healthy(url string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.index[url]
	return ok && b.healthy
}

// URLs returns the pool membership in insertion order
func (p *Pool) URLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	urls := make([]string, len(p.backends))
	for i, b := range p.backends {
		urls[i] = b.URL
	}
	return urls
}

// Len returns the number of backends regardless of health
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.backends)
}

// available returns the URLs that are healthy and pass the filter,
// in insertion order.
func (p *Pool) available(filter func(url string) bool) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var urls []string
	for _, b := range p.backends {
		if !b.healthy {
			continue
		}
		if filter != nil && !filter(b.URL) {
			continue
		}
		urls = append(urls, b.URL)
	}
	return urls
}

// recordDispatch counts a request handed to a URL
func (p *Pool) recordDispatch(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.index[url]; ok {
		b.requests++
	}
}

// RecordResult records the outcome of a completed request, folding the
// latency into the exponentially weighted average.
func (p *Pool) RecordResult(url string, success bool, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.index[url]
	if !ok {
		return
	}
	if success {
		b.successes++
	} else {
		b.failures++
	}
	if latency > 0 {
		if b.avgLatency == 0 {
			b.avgLatency = latency
		} else {
			b.avgLatency = time.Duration(float64(b.avgLatency)*(1-ewmaAlpha) + float64(latency)*ewmaAlpha)
		}
	}
}

// Snapshot returns per-backend stats in insertion order
func (p *Pool) Snapshot() []BackendStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]BackendStats, len(p.backends))
	for i, b := range p.backends {
		stats[i] = BackendStats{
			URL:        b.URL,
			Healthy:    b.healthy,
			Requests:   b.requests,
			Successes:  b.successes,
			Failures:   b.failures,
			AvgLatency: b.avgLatency,
		}
	}
	return stats
}

// CheckHealth probes every backend concurrently and updates the health
// flags from the results.
func (p *Pool) CheckHealth(ctx context.Context, probe Probe) {
	urls := p.URLs()

	var wg sync.WaitGroup
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			err := probe(ctx, url)
			p.SetHealthy(url, err == nil)
		}(url)
	}
	wg.Wait()
}
