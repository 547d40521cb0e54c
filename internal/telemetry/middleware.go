package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"gateway/internal/core"
	"gateway/pkg/errors"
)

// Middleware opens a server span per request, linking to an upstream
// trace when the caller propagates one.
func Middleware(t *Telemetry) core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, req core.Request) (core.Response, error) {
			ctx = t.propagator.Extract(ctx, propagation.HeaderCarrier(req.Headers()))

			ctx, span := t.tracer.Start(ctx,
				fmt.Sprintf("%s %s", req.Method(), req.Path()),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethod(req.Method()),
					semconv.HTTPTarget(req.URL()),
					attribute.String("net.peer.addr", req.RemoteAddr()),
					attribute.String("request.id", req.ID()),
				),
			)
			defer span.End()

			resp, err := next(ctx, req)

			switch {
			case err != nil:
				span.RecordError(err)
				var gwErr *errors.Error
				if errors.As(err, &gwErr) {
					span.SetAttributes(semconv.HTTPStatusCode(gwErr.HTTPStatusCode()))
				}
				span.SetStatus(codes.Error, err.Error())
			case resp != nil:
				span.SetAttributes(semconv.HTTPStatusCode(resp.StatusCode()))
				if resp.StatusCode() >= 500 {
					span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode()))
				} else {
					span.SetStatus(codes.Ok, "")
				}
			}

			return resp, err
		}
	}
}
