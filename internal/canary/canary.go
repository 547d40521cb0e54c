package canary

import (
	"fmt"
	"math/rand"
	"sync"

	"gateway/internal/core"
)

// RuleType identifies how a canary rule matches a request
type RuleType string

const (
	// RuleHeader matches on a request header value
	RuleHeader RuleType = "header"
	// RuleQuery matches on a query parameter value
	RuleQuery RuleType = "query"
	// RuleUserGroup matches on a caller group supplied by the auth layer
	RuleUserGroup RuleType = "userGroup"
	// RuleRandom matches a percentage of evaluations at random
	RuleRandom RuleType = "random"
)

// Rule routes matching requests to a target version. Rules are
// evaluated in declaration order; the first match wins.
type Rule struct {
	Type RuleType
	// Name is the header or query parameter to inspect
	Name string
	// Values is the set of accepted values for header/query rules
	Values []string
	// Group is the caller group for userGroup rules
	Group string
	// Percentage is the match probability, 0-100, for random rules
	Percentage float64
	// TargetVersion is the version selected when the rule matches
	TargetVersion string
}

// Version is one traffic split target with a relative weight
type Version struct {
	Name   string
	Weight int
}

// Config describes the traffic split for one service
type Config struct {
	Enabled        bool
	DefaultVersion string
	Versions       []Version
	Rules          []Rule
}

// Validate rejects configurations that would misroute at runtime:
// rules or the default pointing at versions that do not exist, and
// splits with no weight anywhere.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Versions) == 0 {
		return fmt.Errorf("canary enabled with no versions")
	}

	names := make(map[string]bool, len(c.Versions))
	totalWeight := 0
	for _, v := range c.Versions {
		if v.Name == "" {
			return fmt.Errorf("canary version with empty name")
		}
		if names[v.Name] {
			return fmt.Errorf("duplicate canary version %q", v.Name)
		}
		if v.Weight < 0 {
			return fmt.Errorf("canary version %q has negative weight", v.Name)
		}
		names[v.Name] = true
		totalWeight += v.Weight
	}
	if totalWeight == 0 {
		return fmt.Errorf("canary versions have zero total weight")
	}

	if c.DefaultVersion != "" && !names[c.DefaultVersion] {
		return fmt.Errorf("canary default version %q is not defined", c.DefaultVersion)
	}

	for i, r := range c.Rules {
		if !names[r.TargetVersion] {
			return fmt.Errorf("canary rule %d targets unknown version %q", i, r.TargetVersion)
		}
		switch r.Type {
		case RuleHeader, RuleQuery:
			if r.Name == "" {
				return fmt.Errorf("canary rule %d (%s) has no name to match", i, r.Type)
			}
			if len(r.Values) == 0 {
				return fmt.Errorf("canary rule %d (%s) has no values to match", i, r.Type)
			}
		case RuleUserGroup:
			if r.Group == "" {
				return fmt.Errorf("canary rule %d (userGroup) has no group", i)
			}
		case RuleRandom:
			if r.Percentage < 0 || r.Percentage > 100 {
				return fmt.Errorf("canary rule %d (random) percentage %.1f out of range", i, r.Percentage)
			}
		default:
			return fmt.Errorf("canary rule %d has unknown type %q", i, r.Type)
		}
	}
	return nil
}

// Resolver picks a version name for each request
type Resolver struct {
	config Config

	mu   sync.Mutex
	rand *rand.Rand
}

// Option adjusts resolver construction
type Option func(*Resolver)

// WithRandSource replaces the random source, for deterministic tests
func WithRandSource(src rand.Source) Option {
	return func(r *Resolver) {
		r.rand = rand.New(src)
	}
}

// NewResolver creates a resolver for a validated config
func NewResolver(config Config, opts ...Option) (*Resolver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{
		config: config,
		rand:   rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the version the request should be routed to. Rules
// are tried in order; when none match, a weighted random draw over the
// version list decides.
func (r *Resolver) Resolve(req core.Request, id *core.Identity) string {
	if !r.config.Enabled {
		return r.config.DefaultVersion
	}

	for _, rule := range r.config.Rules {
		if r.matches(rule, req, id) {
			return rule.TargetVersion
		}
	}
	return r.pickWeighted()
}

func (r *Resolver) matches(rule Rule, req core.Request, id *core.Identity) bool {
	switch rule.Type {
	case RuleHeader:
		return containsValue(rule.Values, req.Header(rule.Name))
	case RuleQuery:
		return containsValue(rule.Values, req.Query().Get(rule.Name))
	case RuleUserGroup:
		return id.HasGroup(rule.Group)
	case RuleRandom:
		return r.draw() < rule.Percentage/100
	default:
		return false
	}
}

// draw returns one fresh uniform number in [0,1)
func (r *Resolver) draw() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// pickWeighted selects a version by cumulative weight ranges
func (r *Resolver) pickWeighted() string {
	totalWeight := 0
	for _, v := range r.config.Versions {
		totalWeight += v.Weight
	}

	target := r.draw() * float64(totalWeight)
	cumulative := 0.0
	for _, v := range r.config.Versions {
		cumulative += float64(v.Weight)
		if target < cumulative {
			return v.Name
		}
	}
	return r.config.Versions[len(r.config.Versions)-1].Name
}

func containsValue(values []string, value string) bool {
	if value == "" {
		return false
	}
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
