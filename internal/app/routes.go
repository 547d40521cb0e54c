package app

import (
	"fmt"

	"gateway/internal/balancer"
	"gateway/internal/cache"
	"gateway/internal/canary"
	"gateway/internal/circuitbreaker"
	"gateway/internal/config"
	"gateway/internal/dispatch"
	"gateway/internal/router"
)

// buildRoutes turns the service declarations into a route table. Every
// route owns its balancers, breakers, resolver and cache, so swapping
// the table swaps the whole runtime state in one pointer store.
func buildRoutes(cfg *config.Config) (*router.Table[*dispatch.Route], []*dispatch.Route, error) {
	table := router.NewTable[*dispatch.Route]()
	routes := make([]*dispatch.Route, 0, len(cfg.Services))

	for i := range cfg.Services {
		route, err := buildRoute(&cfg.Services[i])
		if err != nil {
			closeAll(routes)
			return nil, nil, fmt.Errorf("service %q: %w", cfg.Services[i].Name, err)
		}
		if err := table.Add(route.Prefix, route); err != nil {
			route.Close()
			closeAll(routes)
			return nil, nil, err
		}
		routes = append(routes, route)
	}
	return table, routes, nil
}

func buildRoute(svc *config.ServiceConfig) (*dispatch.Route, error) {
	strategy, err := balancer.ParseStrategy(svc.Strategy)
	if err != nil {
		return nil, err
	}

	breakerCfg := circuitbreaker.Config{
		FailureThreshold:  svc.CircuitBreaker.FailureThreshold,
		ResetTimeout:      svc.CircuitBreaker.ResetTimeout.Std(),
		TripOnServerError: svc.CircuitBreaker.TripOnServerError,
	}

	params := dispatch.RouteParams{
		Name:              svc.Name,
		Prefix:            svc.Prefix,
		Timeout:           svc.Timeout.Std(),
		TripOnServerError: svc.CircuitBreaker.TripOnServerError,
		Retry: dispatch.RetryPolicy{
			Enabled:     svc.Retry.Enabled,
			MaxAttempts: svc.Retry.MaxAttempts,
		},
		Balancers: make(map[string]*balancer.Balancer),
	}

	if svc.Canary != nil && svc.Canary.Enabled {
		resolver, err := canary.NewResolver(svc.Canary.Split())
		if err != nil {
			return nil, err
		}
		params.Resolver = resolver
		params.DefaultVersion = svc.Canary.DefaultVersion
		for _, v := range svc.Canary.Versions {
			params.Balancers[v.Name] = balancer.New(svc.Name, v.Pool(), strategy, breakerCfg)
		}
	} else {
		b := balancer.New(svc.Name, svc.Pool(), strategy, breakerCfg)
		if len(svc.Weights) > 0 {
			b.SetWeights(svc.Weights)
		}
		params.Balancers[dispatch.DefaultVersionName] = b
	}

	if svc.Cache.Enabled {
		params.Cache = cache.New(cache.Config{
			MaxSize:         svc.Cache.MaxSize,
			DefaultTTL:      svc.Cache.TTL.Std(),
			CleanupInterval: svc.Cache.CleanupInterval.Std(),
		})
		params.CacheTTL = svc.Cache.TTL.Std()
	}

	route, err := dispatch.NewRoute(params)
	if err != nil {
		if params.Cache != nil {
			params.Cache.Close()
		}
		return nil, err
	}
	return route, nil
}

func closeAll(routes []*dispatch.Route) {
	for _, r := range routes {
		r.Close()
	}
}
