package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gateway/internal/balancer"
	"gateway/internal/canary"
	gwtls "gateway/pkg/tls"
)

// Duration is a time.Duration that unmarshals from either a Go
// duration string ("30s", "1m") or a bare number of milliseconds.
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case int64:
		*d = Duration(time.Duration(v) * time.Millisecond)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Millisecond)))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Config is the top-level gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Health    HealthConfig    `yaml:"health" json:"health"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
	Services  []ServiceConfig `yaml:"services" json:"services"`
}

// ServerConfig holds the listener settings
type ServerConfig struct {
	Host         string       `yaml:"host" json:"host"`
	Port         int          `yaml:"port" json:"port"`
	ReadTimeout  Duration     `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout Duration     `yaml:"writeTimeout" json:"writeTimeout"`
	TLS          gwtls.Config `yaml:"tls" json:"tls"`
}

// Address returns the host:port listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig holds fixed-window rate limiting settings
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Window  Duration `yaml:"window" json:"window"`
	Max     int      `yaml:"max" json:"max"`
	Message string   `yaml:"message" json:"message"`
	// Store selects the counter backend: "memory" or "redis"
	Store string      `yaml:"store" json:"store"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig holds the shared-counter store settings
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// DiscoveryConfig selects how backend pools are populated
type DiscoveryConfig struct {
	// Source is "static", "kubernetes" or "docker"
	Source     string              `yaml:"source" json:"source"`
	Interval   Duration            `yaml:"interval" json:"interval"`
	Kubernetes KubernetesDiscovery `yaml:"kubernetes" json:"kubernetes"`
	Docker     DockerDiscovery     `yaml:"docker" json:"docker"`
}

// Dynamic reports whether pools are populated at runtime rather than
// from the static service definitions.
func (d DiscoveryConfig) Dynamic() bool {
	return d.Source == "kubernetes" || d.Source == "docker"
}

// KubernetesDiscovery holds endpoint-watching settings
type KubernetesDiscovery struct {
	Kubeconfig string `yaml:"kubeconfig" json:"kubeconfig"`
	Namespace  string `yaml:"namespace" json:"namespace"`
	PortName   string `yaml:"portName" json:"portName"`
}

// DockerDiscovery holds container-listing settings
type DockerDiscovery struct {
	Host    string `yaml:"host" json:"host"`
	Network string `yaml:"network" json:"network"`
}

// HealthConfig holds active health checking settings
type HealthConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Interval      Duration `yaml:"interval" json:"interval"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`
	FailThreshold int      `yaml:"failThreshold" json:"failThreshold"`
	// Probe is "http", "tcp" or "grpc"
	Probe string `yaml:"probe" json:"probe"`
	// Path is the request path for http probes
	Path string `yaml:"path" json:"path"`
	// GRPCService is the service name passed to grpc health checks
	GRPCService string `yaml:"grpcService" json:"grpcService"`
}

// TracingConfig holds distributed tracing settings
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Endpoint   string  `yaml:"endpoint" json:"endpoint"`
	SampleRate float64 `yaml:"sampleRate" json:"sampleRate"`
	Service    string  `yaml:"service" json:"service"`
	Version    string  `yaml:"version" json:"version"`
}

// ServiceConfig defines one routed service
type ServiceConfig struct {
	Name   string `yaml:"name" json:"name"`
	Prefix string `yaml:"prefix" json:"prefix"`
	// URL is shorthand for a single-backend pool
	URL         string         `yaml:"url" json:"url"`
	BackendPool []string       `yaml:"backendPool" json:"backendPool"`
	Strategy    string         `yaml:"strategy" json:"strategy"`
	Weights     map[string]int `yaml:"weights" json:"weights"`
	Timeout     Duration       `yaml:"timeout" json:"timeout"`

	CircuitBreaker BreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Cache          CacheConfig   `yaml:"cache" json:"cache"`
	Retry          RetryConfig   `yaml:"retry" json:"retry"`
	Canary         *CanaryConfig `yaml:"canary" json:"canary"`
}

// Pool returns the configured backend URLs, honoring the single-URL
// shorthand.
func (s ServiceConfig) Pool() []string {
	if len(s.BackendPool) > 0 {
		return s.BackendPool
	}
	if s.URL != "" {
		return []string{s.URL}
	}
	return nil
}

// BreakerConfig holds per-service circuit breaker settings
type BreakerConfig struct {
	FailureThreshold  int      `yaml:"failureThreshold" json:"failureThreshold"`
	ResetTimeout      Duration `yaml:"resetTimeout" json:"resetTimeout"`
	TripOnServerError bool     `yaml:"tripOnServerError" json:"tripOnServerError"`
}

// CacheConfig holds per-service response cache settings
type CacheConfig struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	MaxSize         int      `yaml:"maxSize" json:"maxSize"`
	TTL             Duration `yaml:"ttl" json:"ttl"`
	CleanupInterval Duration `yaml:"cleanupInterval" json:"cleanupInterval"`
}

// RetryConfig holds per-service retry settings. Retries are off by
// default; when enabled, attempts never reuse a backend already tried.
type RetryConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	MaxAttempts int  `yaml:"maxAttempts" json:"maxAttempts"`
}

// CanaryConfig defines a per-service traffic split
type CanaryConfig struct {
	Enabled        bool            `yaml:"enabled" json:"enabled"`
	DefaultVersion string          `yaml:"defaultVersion" json:"defaultVersion"`
	Versions       []CanaryVersion `yaml:"versions" json:"versions"`
	Rules          []CanaryRule    `yaml:"rules" json:"rules"`
}

// CanaryVersion is one traffic split target with its own pool
type CanaryVersion struct {
	Name   string `yaml:"name" json:"name"`
	Weight int    `yaml:"weight" json:"weight"`
	// URL is shorthand for a single-backend pool
	URL         string   `yaml:"url" json:"url"`
	BackendPool []string `yaml:"backendPool" json:"backendPool"`
}

// Pool returns the version's backend URLs
func (v CanaryVersion) Pool() []string {
	if len(v.BackendPool) > 0 {
		return v.BackendPool
	}
	if v.URL != "" {
		return []string{v.URL}
	}
	return nil
}

// CanaryRule steers matching requests to a target version
type CanaryRule struct {
	Type          string   `yaml:"type" json:"type"`
	Name          string   `yaml:"name" json:"name"`
	Values        []string `yaml:"values" json:"values"`
	Group         string   `yaml:"group" json:"group"`
	Percentage    float64  `yaml:"percentage" json:"percentage"`
	TargetVersion string   `yaml:"targetVersion" json:"targetVersion"`
}

// Split converts the declaration into the runtime traffic-split form
func (c *CanaryConfig) Split() canary.Config {
	out := canary.Config{
		Enabled:        c.Enabled,
		DefaultVersion: c.DefaultVersion,
	}
	for _, v := range c.Versions {
		out.Versions = append(out.Versions, canary.Version{Name: v.Name, Weight: v.Weight})
	}
	for _, r := range c.Rules {
		out.Rules = append(out.Rules, canary.Rule{
			Type:          canary.RuleType(r.Type),
			Name:          r.Name,
			Values:        r.Values,
			Group:         r.Group,
			Percentage:    r.Percentage,
			TargetVersion: r.TargetVersion,
		})
	}
	return out
}

// Validate rejects configurations that would misbehave at runtime.
// Validation failures are fatal at startup and reload.
func (c *Config) Validate() error {
	// Port 0 binds an ephemeral port
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls enabled without certFile and keyFile")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("no services configured")
	}

	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sampleRate %v out of range [0,1]", c.Tracing.SampleRate)
	}

	names := make(map[string]bool, len(c.Services))
	prefixes := make(map[string]bool, len(c.Services))
	for i := range c.Services {
		svc := &c.Services[i]
		if err := c.validateService(svc); err != nil {
			return fmt.Errorf("service %q: %w", svc.Name, err)
		}
		if names[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		if prefixes[svc.Prefix] {
			return fmt.Errorf("duplicate route prefix %q", svc.Prefix)
		}
		names[svc.Name] = true
		prefixes[svc.Prefix] = true
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	rl := c.RateLimit
	if !rl.Enabled {
		return nil
	}
	if rl.Max <= 0 {
		return fmt.Errorf("rateLimit.max must be positive, got %d", rl.Max)
	}
	if rl.Window <= 0 {
		return fmt.Errorf("rateLimit.window must be positive, got %s", rl.Window)
	}
	switch rl.Store {
	case "", "memory":
	case "redis":
		if rl.Redis.Addr == "" {
			return fmt.Errorf("rateLimit.redis.addr required for redis store")
		}
	default:
		return fmt.Errorf("unknown rateLimit.store %q", rl.Store)
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	switch c.Discovery.Source {
	case "", "static", "kubernetes", "docker":
		return nil
	default:
		return fmt.Errorf("unknown discovery.source %q", c.Discovery.Source)
	}
}

func (c *Config) validateHealth() error {
	if !c.Health.Enabled {
		return nil
	}
	switch c.Health.Probe {
	case "", "http", "tcp", "grpc":
		return nil
	default:
		return fmt.Errorf("unknown health.probe %q", c.Health.Probe)
	}
}

func (c *Config) validateService(svc *ServiceConfig) error {
	if svc.Name == "" {
		return fmt.Errorf("missing name")
	}
	if !strings.HasPrefix(svc.Prefix, "/") {
		return fmt.Errorf("prefix %q must start with /", svc.Prefix)
	}
	if _, err := balancer.ParseStrategy(svc.Strategy); err != nil {
		return err
	}

	pool := svc.Pool()
	if len(pool) == 0 && !c.Discovery.Dynamic() {
		return fmt.Errorf("empty backend pool")
	}
	members := make(map[string]bool, len(pool))
	for _, u := range pool {
		if u == "" {
			return fmt.Errorf("empty backend URL")
		}
		if members[u] {
			return fmt.Errorf("duplicate backend URL %q", u)
		}
		members[u] = true
	}
	for u := range svc.Weights {
		if !members[u] {
			return fmt.Errorf("weight for unknown backend %q", u)
		}
	}

	if svc.Retry.Enabled && svc.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be at least 1")
	}

	if svc.Canary != nil && svc.Canary.Enabled {
		if err := c.validateCanary(svc.Canary); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateCanary(cn *CanaryConfig) error {
	split := cn.Split()
	if err := split.Validate(); err != nil {
		return err
	}
	for _, v := range cn.Versions {
		if len(v.Pool()) == 0 && !c.Discovery.Dynamic() {
			return fmt.Errorf("canary version %q has no backends", v.Name)
		}
	}
	return nil
}
