package dispatch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"gateway/internal/backend"
	"gateway/internal/cache"
	"gateway/internal/core"
	"gateway/internal/ratelimit"
	"gateway/internal/router"
	"gateway/pkg/errors"
)

// Dispatcher drives one request through the pipeline: prefix match,
// rate limit, cache probe, version resolution, backend selection,
// breaker check, forward, and outcome recording. The route table is swapped atomically
// on config reload; in-flight requests keep the table they started with.
type Dispatcher struct {
	table     atomic.Pointer[router.Table[*Route]]
	forwarder backend.Forwarder
	limiter   ratelimit.Limiter
	limitKey  ratelimit.KeyFunc
	logger    *slog.Logger
}

// New creates a dispatcher over a route table
func New(table *router.Table[*Route], forwarder backend.Forwarder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		forwarder: forwarder,
		logger:    logger.With("component", "dispatch"),
	}
	d.table.Store(table)
	return d
}

// SetLimiter installs a rate limiter checked after route matching, so
// unmatched paths return 404 and never consume quota. Must be called
// before the dispatcher starts serving.
func (d *Dispatcher) SetLimiter(limiter ratelimit.Limiter, keyFunc ratelimit.KeyFunc) {
	if keyFunc == nil {
		keyFunc = ratelimit.ByIP
	}
	d.limiter = limiter
	d.limitKey = keyFunc
}

// Table returns the current route table
func (d *Dispatcher) Table() *router.Table[*Route] {
	return d.table.Load()
}

// SwapTable atomically replaces the route table, returning the old one
// so its routes can be shut down.
func (d *Dispatcher) SwapTable(t *router.Table[*Route]) *router.Table[*Route] {
	return d.table.Swap(t)
}

// Handle implements core.Handler
func (d *Dispatcher) Handle(ctx context.Context, req core.Request) (core.Response, error) {
	route, suffix, ok := d.table.Load().Match(req.Path())
	if !ok {
		return nil, errors.NewError(errors.ErrorTypeNotFound, "no route matches the request path").
			WithDetail("path", req.Path())
	}

	if d.limiter != nil {
		key := d.limitKey(ctx, req)
		if err := d.limiter.Allow(ctx, key); err != nil {
			d.logger.Warn("request rejected by rate limiter",
				"key", key,
				"route", route.Name,
				"path", req.Path(),
			)
			return nil, err
		}
	}

	var cacheKey string
	if route.cache != nil && req.Method() == http.MethodGet {
		cacheKey = cache.Key(req.Method(), req.Path(), req.Query())
		if entry, hit := route.cache.Get(cacheKey); hit {
			return cachedResponse(entry, "HIT"), nil
		}
	}

	version := route.defaultVersion
	if route.resolver != nil {
		if v := route.resolver.Resolve(req, core.IdentityFrom(ctx)); v != "" {
			version = v
		}
	}

	resp, err := d.forward(ctx, req, route, version, suffix)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" && resp.StatusCode() == http.StatusOK {
		return d.storeAndRespond(route, cacheKey, resp)
	}
	return resp, nil
}

// forward picks a backend and sends the request, honoring the route's
// opt-in retry policy. Retries only ever target backends not yet tried
// in this request.
func (d *Dispatcher) forward(ctx context.Context, req core.Request, route *Route, version, suffix string) (core.Response, error) {
	bal, err := route.Balancer(version)
	if err != nil {
		return nil, err
	}

	tried := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < route.Retry.attempts(); attempt++ {
		url, err := bal.NextExcluding(tried)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		tried[url] = true

		breaker := bal.Breakers().Get(url)
		if !breaker.Allow() {
			lastErr = errors.NewError(errors.ErrorTypeCircuitOpen, "circuit breaker is open").
				WithDetail("route", route.Name).
				WithDetail("url", url)
			continue
		}

		start := time.Now()
		resp, err := d.forwarder.Forward(ctx, req, url, suffix, route.Timeout)
		latency := time.Since(start)

		if err != nil {
			breaker.Failure()
			bal.Pool().RecordResult(url, false, latency)
			d.logger.Warn("backend request failed",
				"route", route.Name,
				"version", version,
				"url", url,
				"attempt", attempt+1,
				"error", err,
			)
			lastErr = err
			continue
		}

		serverError := resp.StatusCode() >= http.StatusInternalServerError
		if serverError && route.TripOnServerError {
			breaker.Failure()
		} else {
			breaker.Success()
		}
		bal.Pool().RecordResult(url, !serverError, latency)
		return resp, nil
	}

	return nil, lastErr
}

// storeAndRespond buffers a cacheable response, stores it, and returns
// the buffered copy to the caller.
func (d *Dispatcher) storeAndRespond(route *Route, key string, resp core.Response) (core.Response, error) {
	body, err := io.ReadAll(resp.Body())
	resp.Body().Close()
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "reading backend response").WithCause(err)
	}

	route.cache.Set(key, &cache.Entry{
		Status: resp.StatusCode(),
		Value:  body,
		Header: resp.Headers(),
	}, route.cacheTTL)

	headers := cloneHeaders(resp.Headers())
	headers["X-Cache"] = []string{"MISS"}
	return core.NewResponse(resp.StatusCode(), headers, body), nil
}

func cachedResponse(entry *cache.Entry, state string) core.Response {
	headers := cloneHeaders(entry.Header)
	headers["X-Cache"] = []string{state}
	return core.NewResponse(entry.Status, headers, entry.Value)
}

func cloneHeaders(h map[string][]string) map[string][]string {
	out := make(map[string][]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}
