package middleware

import (
	"context"
	"log/slog"
	"time"

	"gateway/internal/core"
	gwerrors "gateway/pkg/errors"
)

// Logging writes one structured line per request with the outcome
func Logging(logger *slog.Logger) core.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "access")

	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, req core.Request) (core.Response, error) {
			start := time.Now()

			resp, err := next(ctx, req)

			attrs := []any{
				"requestId", req.ID(),
				"method", req.Method(),
				"path", req.Path(),
				"remoteAddr", req.RemoteAddr(),
				"duration", time.Since(start),
			}

			switch {
			case err != nil:
				var gwErr *gwerrors.Error
				if gwerrors.As(err, &gwErr) {
					attrs = append(attrs, "status", gwErr.HTTPStatusCode(), "errorType", string(gwErr.Type))
				} else {
					attrs = append(attrs, "status", 500)
				}
				attrs = append(attrs, "error", err)
				logger.Warn("request failed", attrs...)
			default:
				attrs = append(attrs, "status", resp.StatusCode())
				logger.Info("request completed", attrs...)
			}

			return resp, err
		}
	}
}
