package balancer

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"gateway/internal/circuitbreaker"
	"gateway/pkg/errors"
)

// Strategy selects how the balancer orders backends
type Strategy string

const (
	// StrategyRoundRobin cycles through the available backends in order
	StrategyRoundRobin Strategy = "round-robin"
	// StrategyRandom picks a uniformly random available backend
	StrategyRandom Strategy = "random"
	// StrategyWeighted picks randomly in proportion to configured weights
	StrategyWeighted Strategy = "weighted"
)

// ParseStrategy validates a strategy name from configuration
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyRandom, StrategyWeighted:
		return Strategy(s), nil
	case "":
		return StrategyRoundRobin, nil
	default:
		return "", fmt.Errorf("unknown load balancing strategy %q", s)
	}
}

// Balancer selects backends from a pool, skipping URLs that are
// unhealthy or whose circuit breaker is not admitting requests. Each
// service version owns one Balancer; the breaker registry it carries is
// shared with the dispatch path so selection and outcome reporting see
// the same per-URL state.
type Balancer struct {
	service  string
	strategy Strategy
	pool     *Pool
	breakers *circuitbreaker.Registry

	mu      sync.Mutex
	next    int
	weights map[string]int
	rand    *rand.Rand

	total atomic.Uint64
}

// New creates a balancer over the given URLs
func New(service string, urls []string, strategy Strategy, breakerConfig circuitbreaker.Config) *Balancer {
	return &Balancer{
		service:  service,
		strategy: strategy,
		pool:     NewPool(urls),
		breakers: circuitbreaker.NewRegistry(breakerConfig),
		weights:  make(map[string]int),
		rand:     rand.New(rand.NewSource(rand.Int63())),
	}
}

// Service returns the service name the balancer belongs to
func (b *Balancer) Service() string {
	return b.service
}

// Pool exposes the backend pool for discovery and health monitoring
func (b *Balancer) Pool() *Pool {
	return b.pool
}

// Breakers exposes the per-URL breaker registry for the dispatch path
func (b *Balancer) Breakers() *circuitbreaker.Registry {
	return b.breakers
}

// SetWeights replaces the weight table used by the weighted strategy.
// URLs without an entry weigh 1.
func (b *Balancer) SetWeights(weights map[string]int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.weights = make(map[string]int, len(weights))
	for url, w := range weights {
		b.weights[url] = w
	}
}

// AddURL adds a backend at runtime
func (b *Balancer) AddURL(url string) bool {
	return b.pool.Add(url)
}

// URLs returns the current pool membership
func (b *Balancer) URLs() []string {
	return b.pool.URLs()
}

// RemoveURL drops a backend and its breaker history, so a re-added URL
// starts clean.
func (b *Balancer) RemoveURL(url string) bool {
	if !b.pool.Remove(url) {
		return false
	}
	b.breakers.Remove(url)
	return true
}

// Next selects a backend URL among those that are healthy and whose
// breaker admits traffic. Returns an unavailable error when none qualify.
func (b *Balancer) Next() (string, error) {
	return b.NextExcluding(nil)
}

// NextExcluding selects like Next but skips the given URLs. Retry
// policies use it so a second attempt lands on a different backend.
func (b *Balancer) NextExcluding(exclude map[string]bool) (string, error) {
	available := b.pool.available(func(url string) bool {
		return !exclude[url] && b.breakers.Ready(url)
	})
	if len(available) == 0 {
		return "", errors.NewError(errors.ErrorTypeUnavailable, "no healthy backend").
			WithDetail("service", b.service)
	}

	b.mu.Lock()
	var url string
	switch b.strategy {
	case StrategyRandom:
		url = available[b.rand.Intn(len(available))]
	case StrategyWeighted:
		url = b.pickWeighted(available)
	default:
		url = available[b.next%len(available)]
		b.next++
	}
	b.mu.Unlock()

	b.total.Add(1)
	b.pool.recordDispatch(url)
	return url, nil
}

// pickWeighted draws one URL in proportion to its weight. Must be
// called with the lock held.
func (b *Balancer) pickWeighted(available []string) string {
	totalWeight := 0
	for _, url := range available {
		totalWeight += b.weight(url)
	}

	target := b.rand.Intn(totalWeight)
	current := 0
	for _, url := range available {
		current += b.weight(url)
		if target < current {
			return url
		}
	}
	return available[len(available)-1]
}

func (b *Balancer) weight(url string) int {
	if w, ok := b.weights[url]; ok && w > 0 {
		return w
	}
	return 1
}

// TotalRequests returns the number of selections made
func (b *Balancer) TotalRequests() uint64 {
	return b.total.Load()
}

// Stats returns per-backend stats joined with breaker state
func (b *Balancer) Stats() []URLStats {
	breakerStats := b.breakers.Stats()

	snapshot := b.pool.Snapshot()
	stats := make([]URLStats, len(snapshot))
	for i, bs := range snapshot {
		state := circuitbreaker.StateClosed
		if cb, ok := breakerStats[bs.URL]; ok {
			state = cb.State
		}
		stats[i] = URLStats{
			BackendStats: bs,
			BreakerState: state.String(),
		}
	}
	return stats
}

// URLStats is a backend snapshot annotated with its breaker state
type URLStats struct {
	BackendStats
	BreakerState string `json:"breakerState"`
}
