package metrics

import (
	"context"
	"strconv"
	"time"

	"gateway/internal/core"
	"gateway/pkg/errors"
)

// RouteNamer maps a request path to the route label, keeping metric
// cardinality bounded by configuration rather than by URL space.
type RouteNamer func(path string) string

// Middleware records request counts, latency and in-flight gauge
func Middleware(m *Metrics, routeName RouteNamer) core.Middleware {
	if routeName == nil {
		routeName = func(string) string { return "unknown" }
	}

	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, req core.Request) (core.Response, error) {
			route := routeName(req.Path())

			m.ActiveRequests.Inc()
			start := time.Now()

			resp, err := next(ctx, req)

			m.ActiveRequests.Dec()
			m.RequestDuration.WithLabelValues(route, req.Method()).Observe(time.Since(start).Seconds())

			status := 0
			switch {
			case err != nil:
				var gwErr *errors.Error
				if errors.As(err, &gwErr) {
					status = gwErr.HTTPStatusCode()
				} else {
					status = 500
				}
				m.BackendErrors.WithLabelValues(route, string(errors.TypeOf(err))).Inc()
			case resp != nil:
				status = resp.StatusCode()
			}
			m.RequestsTotal.WithLabelValues(route, req.Method(), strconv.Itoa(status)).Inc()

			return resp, err
		}
	}
}
