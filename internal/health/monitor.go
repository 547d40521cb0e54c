package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gateway/internal/balancer"
)

// Config holds monitor cadence settings
type Config struct {
	// Interval between probe sweeps
	Interval time.Duration
	// Timeout bounds each individual probe
	Timeout time.Duration
	// FailThreshold is the number of consecutive probe failures before
	// a backend is marked unhealthy. One success marks it healthy again.
	FailThreshold int
}

// DefaultConfig returns the default monitor cadence
func DefaultConfig() Config {
	return Config{
		Interval:      10 * time.Second,
		Timeout:       3 * time.Second,
		FailThreshold: 2,
	}
}

// Target is one monitored pool
type Target struct {
	Service string
	Version string
	Pool    *balancer.Pool
	Probe   balancer.Probe
}

// Monitor owns the probing cadence for all registered pools. It is the
// only writer of pool health flags at runtime, so a backend flaps only
// when probes say so, not per request.
type Monitor struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	targets []Target
	fails   map[string]int

	stopCh chan struct{}
	done   chan struct{}
}

// NewMonitor creates a health monitor
func NewMonitor(config Config, logger *slog.Logger) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.FailThreshold <= 0 {
		config.FailThreshold = DefaultConfig().FailThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		config: config,
		logger: logger.With("component", "health"),
		fails:  make(map[string]int),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Reset drops all targets and failure streaks. Used on config reload
// before the new route table's pools are registered.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = nil
	m.fails = make(map[string]int)
}

// Watch registers a pool for monitoring
func (m *Monitor) Watch(target Target) {
	m.mu.Lock()
	m.targets = append(m.targets, target)
	m.mu.Unlock()
}

// Start runs an initial sweep and begins the probe loop
func (m *Monitor) Start(ctx context.Context) {
	m.Sweep(ctx)
	go m.loop(ctx)
}

// Stop halts the probe loop
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.done
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		}
	}
}

// Sweep probes every backend of every watched pool concurrently
func (m *Monitor) Sweep(ctx context.Context) {
	m.mu.Lock()
	targets := make([]Target, len(m.targets))
	copy(targets, m.targets)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, target := range targets {
		for _, url := range target.Pool.URLs() {
			wg.Add(1)
			go func(target Target, url string) {
				defer wg.Done()
				m.probeOne(ctx, target, url)
			}(target, url)
		}
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, target Target, url string) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	err := target.Probe(ctx, url)
	key := fmt.Sprintf("%s/%s/%s", target.Service, target.Version, url)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		if m.fails[key] >= m.config.FailThreshold {
			m.logger.Info("backend recovered",
				"service", target.Service,
				"version", target.Version,
				"url", url,
			)
		}
		m.fails[key] = 0
		target.Pool.SetHealthy(url, true)
		return
	}

	m.fails[key]++
	if m.fails[key] == m.config.FailThreshold {
		m.logger.Warn("backend marked unhealthy",
			"service", target.Service,
			"version", target.Version,
			"url", url,
			"consecutiveFails", m.fails[key],
			"error", err,
		)
	}
	if m.fails[key] >= m.config.FailThreshold {
		target.Pool.SetHealthy(url, false)
	}
}

// ServiceHealth describes one watched pool for the readiness endpoint
type ServiceHealth struct {
	Service  string          `json:"service"`
	Version  string          `json:"version"`
	Backends map[string]bool `json:"backends"`
	Ready    bool            `json:"ready"`
}

// Snapshot reports per-pool backend health. A pool is ready when at
// least one backend is healthy.
func (m *Monitor) Snapshot() []ServiceHealth {
	m.mu.Lock()
	targets := make([]Target, len(m.targets))
	copy(targets, m.targets)
	m.mu.Unlock()

	out := make([]ServiceHealth, 0, len(targets))
	for _, target := range targets {
		sh := ServiceHealth{
			Service:  target.Service,
			Version:  target.Version,
			Backends: make(map[string]bool),
		}
		for _, bs := range target.Pool.Snapshot() {
			sh.Backends[bs.URL] = bs.Healthy
			if bs.Healthy {
				sh.Ready = true
			}
		}
		out = append(out, sh)
	}
	return out
}

// Ready reports whether every watched pool has a healthy backend
func (m *Monitor) Ready() bool {
	for _, sh := range m.Snapshot() {
		if !sh.Ready {
			return false
		}
	}
	return true
}
