package dispatch

import (
	"fmt"
	"time"

	"gateway/internal/balancer"
	"gateway/internal/cache"
	"gateway/internal/canary"
	"gateway/pkg/errors"
)

// DefaultVersionName is the pool key for routes without a traffic split
const DefaultVersionName = "stable"

// RetryPolicy is the opt-in bounded retry for failed forwards. Off by
// default; when enabled, each extra attempt goes to a backend not yet
// tried in this request.
type RetryPolicy struct {
	Enabled     bool
	MaxAttempts int
}

func (p RetryPolicy) attempts() int {
	if !p.Enabled || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Route is the per-service runtime: one balancer per version, the
// optional canary resolver and response cache, and the forwarding
// limits. Every piece is owned by this route alone; a config reload
// builds new Routes and swaps the table.
type Route struct {
	Name              string
	Prefix            string
	Timeout           time.Duration
	TripOnServerError bool
	Retry             RetryPolicy

	defaultVersion string
	balancers      map[string]*balancer.Balancer
	resolver       *canary.Resolver
	cache          *cache.Cache
	cacheTTL       time.Duration
}

// RouteParams collects everything a Route needs at construction
type RouteParams struct {
	Name              string
	Prefix            string
	Timeout           time.Duration
	TripOnServerError bool
	Retry             RetryPolicy

	// Balancers maps version name to its pool; DefaultVersionName is
	// required when no resolver is set.
	Balancers      map[string]*balancer.Balancer
	DefaultVersion string

	// Resolver picks a version per request; nil routes everything to
	// DefaultVersion.
	Resolver *canary.Resolver

	// Cache enables response caching for GET requests when non-nil
	Cache    *cache.Cache
	CacheTTL time.Duration
}

// NewRoute validates the wiring and builds a route runtime
func NewRoute(p RouteParams) (*Route, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("route without a name")
	}
	if len(p.Balancers) == 0 {
		return nil, fmt.Errorf("route %q has no backend pool", p.Name)
	}
	if p.DefaultVersion == "" {
		p.DefaultVersion = DefaultVersionName
	}
	if _, ok := p.Balancers[p.DefaultVersion]; !ok {
		return nil, fmt.Errorf("route %q: default version %q has no pool", p.Name, p.DefaultVersion)
	}

	return &Route{
		Name:              p.Name,
		Prefix:            p.Prefix,
		Timeout:           p.Timeout,
		TripOnServerError: p.TripOnServerError,
		Retry:             p.Retry,
		defaultVersion:    p.DefaultVersion,
		balancers:         p.Balancers,
		resolver:          p.Resolver,
		cache:             p.Cache,
		cacheTTL:          p.CacheTTL,
	}, nil
}

// Balancer returns the pool for a version name
func (r *Route) Balancer(version string) (*balancer.Balancer, error) {
	b, ok := r.balancers[version]
	if !ok {
		return nil, errors.NewError(errors.ErrorTypeInternal, "resolved version has no pool").
			WithDetail("route", r.Name).
			WithDetail("version", version)
	}
	return b, nil
}

// Balancers returns the version-to-pool map for health monitoring and
// discovery wiring.
func (r *Route) Balancers() map[string]*balancer.Balancer {
	return r.balancers
}

// Cache returns the route's response cache, nil when disabled
func (r *Route) Cache() *cache.Cache {
	return r.cache
}

// Close releases background resources owned by the route
func (r *Route) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
}

// Stats is the per-route observability snapshot served by the admin
// endpoint.
type Stats struct {
	Name     string                  `json:"name"`
	Prefix   string                  `json:"prefix"`
	Versions map[string]VersionStats `json:"versions"`
	Cache    *cache.Stats            `json:"cache,omitempty"`
}

// VersionStats describes one version's pool
type VersionStats struct {
	TotalRequests uint64              `json:"totalRequests"`
	Backends      []balancer.URLStats `json:"backends"`
}

// Stats snapshots the route's balancers and cache
func (r *Route) Stats() Stats {
	s := Stats{
		Name:     r.Name,
		Prefix:   r.Prefix,
		Versions: make(map[string]VersionStats, len(r.balancers)),
	}
	for version, b := range r.balancers {
		s.Versions[version] = VersionStats{
			TotalRequests: b.TotalRequests(),
			Backends:      b.Stats(),
		}
	}
	if r.cache != nil {
		cs := r.cache.Stats()
		s.Cache = &cs
	}
	return s
}
