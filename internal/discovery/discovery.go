package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pool is the discovery target: a service version's backend set.
// Implemented by the load balancer.
type Pool interface {
	URLs() []string
	AddURL(url string) bool
	RemoveURL(url string) bool
}

// Source resolves the desired backend URLs per service name
type Source interface {
	Name() string
	Resolve(ctx context.Context) (map[string][]string, error)
}

// Runner polls a source and reconciles registered pools with the
// resolved URL sets. Services the source does not report keep their
// current membership, so a flapping source cannot empty a pool.
type Runner struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	pools map[string]Pool

	stopCh chan struct{}
	done   chan struct{}
}

// NewRunner creates a discovery runner for a source
func NewRunner(source Source, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		source:   source,
		interval: interval,
		logger:   logger.With("component", "discovery", "source", source.Name()),
		pools:    make(map[string]Pool),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Reset drops all registered pools. Used on config reload before the
// new route table's pools are registered.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = make(map[string]Pool)
}

// Register binds a service name to the pool its discovered URLs feed
func (r *Runner) Register(service string, pool Pool) {
	r.mu.Lock()
	r.pools[service] = pool
	r.mu.Unlock()
}

// Start performs an initial sync and begins polling. If the initial
// sync fails the poll loop is not started and Stop returns immediately.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.syncOnce(ctx); err != nil {
		close(r.done)
		return err
	}
	go r.loop(ctx)
	return nil
}

// Stop halts polling
func (r *Runner) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.syncOnce(ctx); err != nil {
				r.logger.Error("discovery sync failed", "error", err)
			}
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runner) syncOnce(ctx context.Context) error {
	resolved, err := r.source.Resolve(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for service, pool := range r.pools {
		urls, ok := resolved[service]
		if !ok {
			continue
		}
		added, removed := reconcile(pool, urls)
		if added > 0 || removed > 0 {
			r.logger.Info("pool updated",
				"service", service,
				"added", added,
				"removed", removed,
				"size", len(pool.URLs()),
			)
		}
	}
	return nil
}

// reconcile diffs the pool against the desired URL set
func reconcile(pool Pool, desired []string) (added, removed int) {
	want := make(map[string]bool, len(desired))
	for _, url := range desired {
		want[url] = true
	}

	for _, url := range pool.URLs() {
		if !want[url] {
			if pool.RemoveURL(url) {
				removed++
			}
		}
	}
	for _, url := range desired {
		if pool.AddURL(url) {
			added++
		}
	}
	return added, removed
}
