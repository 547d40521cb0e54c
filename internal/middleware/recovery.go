package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"gateway/internal/core"
	gwerrors "gateway/pkg/errors"
)

// Recovery converts handler panics into internal errors so one bad
// request cannot take the process down.
func Recovery(logger *slog.Logger) core.Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, req core.Request) (resp core.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic recovered",
						"panic", r,
						"path", req.Path(),
						"method", req.Method(),
						"stack", string(debug.Stack()),
					)
					err = gwerrors.NewError(gwerrors.ErrorTypeInternal, "internal server error").
						WithDetail("panic", fmt.Sprintf("%v", r))
					resp = nil
				}
			}()
			return next(ctx, req)
		}
	}
}
