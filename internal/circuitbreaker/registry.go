package circuitbreaker

import "sync"

// Registry owns the breakers of one backend pool, keyed by backend URL.
// Breakers are created lazily on first use and discarded when a URL
// leaves the pool, so a re-added URL starts with a clean history.
type Registry struct {
	config   Config
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry with a shared per-URL config
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a URL, creating it on first use
func (r *Registry) Get(url string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[url]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[url]; ok {
		return b
	}
	b = New(r.config)
	r.breakers[url] = b
	return b
}

// Remove discards the breaker state for a URL
func (r *Registry) Remove(url string) {
	r.mu.Lock()
	delete(r.breakers, url)
	r.mu.Unlock()
}

// Ready reports whether the URL's breaker would admit a request. URLs
// without breaker state are ready by definition.
func (r *Registry) Ready(url string) bool {
	r.mu.RLock()
	b, ok := r.breakers[url]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return b.Ready()
}

// Stats returns a snapshot of all tracked breakers
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for url, b := range r.breakers {
		stats[url] = b.Stats()
	}
	return stats
}
