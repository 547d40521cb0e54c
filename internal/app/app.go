package app

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"gateway/internal/backend"
	"gateway/internal/balancer"
	"gateway/internal/config"
	"gateway/internal/core"
	"gateway/internal/discovery"
	"gateway/internal/dispatch"
	"gateway/internal/health"
	"gateway/internal/metrics"
	"gateway/internal/middleware"
	"gateway/internal/ratelimit"
	"gateway/internal/telemetry"
	gwerrors "gateway/pkg/errors"
)

const collectInterval = 15 * time.Second

// App wires the configuration into a running gateway: the dispatch
// pipeline behind an HTTP listener, plus the health monitor, discovery
// runner, rate limiter and metrics that surround it.
type App struct {
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	telemetry  *telemetry.Telemetry
	dispatcher *dispatch.Dispatcher
	monitor    *health.Monitor
	runner     *discovery.Runner
	collector  *collector

	limiterStop func()

	server   *http.Server
	listener net.Listener

	healthEnabled bool

	mu     sync.Mutex
	routes []*dispatch.Route
	cancel context.CancelFunc
}

// New builds the application from a validated configuration
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tel, err := telemetry.New(context.Background(), telemetry.Config{
		Enabled:    cfg.Tracing.Enabled,
		Service:    cfg.Tracing.Service,
		Version:    cfg.Tracing.Version,
		Endpoint:   cfg.Tracing.Endpoint,
		SampleRate: cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewWithRegistry(registry)

	table, routes, err := buildRoutes(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		logger:        logger,
		registry:      registry,
		metrics:       m,
		telemetry:     tel,
		monitor:       newMonitor(cfg, logger),
		healthEnabled: cfg.Health.Enabled,
		routes:        routes,
	}
	a.dispatcher = dispatch.New(table, backend.NewHTTPForwarder(nil, 0), logger)
	a.collector = newCollector(m, a.routesSnapshot)

	if a.healthEnabled {
		watchTargets(a.monitor, cfg.Health, routes)
	}

	if cfg.Discovery.Dynamic() {
		source, err := newSource(cfg.Discovery)
		if err != nil {
			closeAll(routes)
			return nil, fmt.Errorf("discovery: %w", err)
		}
		a.runner = discovery.NewRunner(source, cfg.Discovery.Interval.Std(), logger)
		registerPools(a.runner, routes)
	}

	limiter, stop := newLimiter(cfg.RateLimit, m, logger)
	a.limiterStop = stop
	if limiter != nil {
		a.dispatcher.SetLimiter(limiter, ratelimit.ByPrincipal)
	}

	handler := buildChain(a, tel, logger)

	mux := http.NewServeMux()
	health.NewHandler(a.monitor).Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/admin/stats", a.handleStats)
	mux.Handle("/", NewAdapter(handler, logger))

	tlsConfig, err := cfg.Server.TLS.ServerConfig()
	if err != nil {
		closeAll(routes)
		return nil, fmt.Errorf("tls: %w", err)
	}

	a.server = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		TLSConfig:    tlsConfig,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}
	return a, nil
}

// buildChain assembles the middleware pipeline around dispatch.
// Recovery sits outermost; identity runs before dispatch so the
// limiter's per-principal keys see the extracted caller. The limiter
// itself lives inside the dispatcher, after route matching.
func buildChain(a *App, tel *telemetry.Telemetry, logger *slog.Logger) core.Handler {
	middlewares := []core.Middleware{
		middleware.Recovery(logger),
		middleware.Logging(logger),
		telemetry.Middleware(tel),
		metrics.Middleware(a.metrics, a.routeName),
		middleware.Identity(middleware.DefaultIdentityConfig()),
	}
	return core.Chain(a.dispatcher.Handle, middlewares...)
}

// Start brings up background tasks and the listener. Non-blocking;
// bind failures are reported here rather than from the serve goroutine.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.healthEnabled {
		a.monitor.Start(runCtx)
	}
	if a.runner != nil {
		if err := a.runner.Start(runCtx); err != nil {
			a.logger.Warn("initial discovery sync failed", "error", err)
		}
	}
	go a.collector.run(runCtx, collectInterval)

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	if a.server.TLSConfig != nil {
		ln = tls.NewListener(ln, a.server.TLSConfig)
	}
	a.listener = ln

	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("server stopped", "error", err)
		}
	}()

	a.logger.Info("gateway listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, valid after Start
func (a *App) Addr() string {
	if a.listener == nil {
		return a.server.Addr
	}
	return a.listener.Addr().String()
}

// Shutdown stops the listener and all background tasks
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	err := a.server.Shutdown(ctx)

	if a.healthEnabled {
		a.monitor.Stop()
	}
	if a.runner != nil {
		a.runner.Stop()
	}
	if a.limiterStop != nil {
		a.limiterStop()
	}

	a.mu.Lock()
	routes := a.routes
	a.routes = nil
	a.mu.Unlock()
	closeAll(routes)

	if telErr := a.telemetry.Shutdown(ctx); telErr != nil && err == nil {
		err = telErr
	}
	return err
}

// Reload swaps the route table for a new configuration's services.
// Server, discovery source and rate limit settings need a restart;
// routes, pools, splits, breakers and caches apply immediately.
func (a *App) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	table, routes, err := buildRoutes(cfg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	old := a.routes
	a.routes = routes
	a.mu.Unlock()

	a.dispatcher.SwapTable(table)

	a.monitor.Reset()
	if a.healthEnabled {
		watchTargets(a.monitor, cfg.Health, routes)
	}
	if a.runner != nil {
		a.runner.Reset()
		registerPools(a.runner, routes)
	}

	closeAll(old)
	a.logger.Info("routes reloaded", "services", len(routes))
	return nil
}

func (a *App) routesSnapshot() []*dispatch.Route {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*dispatch.Route, len(a.routes))
	copy(out, a.routes)
	return out
}

// routeName resolves a request path to its route label for metrics
func (a *App) routeName(path string) string {
	if route, _, ok := a.dispatcher.Table().Match(path); ok {
		return route.Name
	}
	return "unmatched"
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	routes := a.routesSnapshot()
	stats := make([]dispatch.Stats, 0, len(routes))
	for _, r := range routes {
		stats = append(stats, r.Stats())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"routes": stats,
		"health": a.monitor.Snapshot(),
	}); err != nil {
		a.logger.Warn("failed to write stats", "error", err)
	}
}

func newMonitor(cfg *config.Config, logger *slog.Logger) *health.Monitor {
	return health.NewMonitor(health.Config{
		Interval:      cfg.Health.Interval.Std(),
		Timeout:       cfg.Health.Timeout.Std(),
		FailThreshold: cfg.Health.FailThreshold,
	}, logger)
}

func watchTargets(monitor *health.Monitor, h config.HealthConfig, routes []*dispatch.Route) {
	probe := probeFor(h)
	for _, route := range routes {
		for version, b := range route.Balancers() {
			monitor.Watch(health.Target{
				Service: route.Name,
				Version: version,
				Pool:    b.Pool(),
				Probe:   probe,
			})
		}
	}
}

func probeFor(h config.HealthConfig) balancer.Probe {
	switch h.Probe {
	case "tcp":
		return health.NewTCPProbe()
	case "grpc":
		return health.NewGRPCProbe(h.GRPCService)
	default:
		return health.NewHTTPProbe(h.Path)
	}
}

func newSource(d config.DiscoveryConfig) (discovery.Source, error) {
	switch d.Source {
	case "kubernetes":
		return discovery.NewKubernetesSource(discovery.KubernetesConfig{
			Kubeconfig: d.Kubernetes.Kubeconfig,
			Namespace:  d.Kubernetes.Namespace,
			PortName:   d.Kubernetes.PortName,
		})
	case "docker":
		return discovery.NewDockerSource(discovery.DockerConfig{
			Host:    d.Docker.Host,
			Network: d.Docker.Network,
		})
	default:
		return nil, fmt.Errorf("unknown discovery source %q", d.Source)
	}
}

// registerPools binds each version pool to the name discovery sources
// label their backends with: the service name for the default pool,
// name-version for canary pools.
func registerPools(runner *discovery.Runner, routes []*dispatch.Route) {
	for _, route := range routes {
		for version, b := range route.Balancers() {
			name := route.Name
			if version != dispatch.DefaultVersionName {
				name = route.Name + "-" + version
			}
			runner.Register(name, b)
		}
	}
}

func newLimiter(rl config.RateLimitConfig, m *metrics.Metrics, logger *slog.Logger) (ratelimit.Limiter, func()) {
	if !rl.Enabled {
		return nil, nil
	}

	cfg := ratelimit.Config{
		Window:  rl.Window.Std(),
		Max:     rl.Max,
		Message: rl.Message,
	}

	if rl.Store == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     rl.Redis.Addr,
			Password: rl.Redis.Password,
			DB:       rl.Redis.DB,
		})
		limiter := ratelimit.NewRedisWindow(client, cfg, logger)
		stop := func() {
			limiter.Stop()
			client.Close()
		}
		return &countingLimiter{inner: limiter, rejections: m.RateLimitRejections}, stop
	}

	limiter := ratelimit.NewFixedWindow(cfg)
	return &countingLimiter{inner: limiter, rejections: m.RateLimitRejections}, limiter.Stop
}

// countingLimiter feeds limiter rejections into the metrics counter
type countingLimiter struct {
	inner      ratelimit.Limiter
	rejections prometheus.Counter
}

func (c *countingLimiter) Allow(ctx context.Context, key string) error {
	err := c.inner.Allow(ctx, key)
	if err != nil && gwerrors.TypeOf(err) == gwerrors.ErrorTypeRateLimit {
		c.rejections.Inc()
	}
	return err
}
