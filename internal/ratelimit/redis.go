package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"gateway/pkg/errors"
)

// RedisWindow is a fixed-window limiter backed by Redis, for gateways
// deployed as multiple replicas that must share one quota. Windows are
// aligned to multiples of the window length so all replicas count into
// the same bucket. On Redis failure it falls back to the local limiter
// rather than rejecting traffic.
type RedisWindow struct {
	client   *redis.Client
	config   Config
	logger   *slog.Logger
	fallback *FixedWindow
}

// NewRedisWindow creates a Redis-backed fixed-window limiter
func NewRedisWindow(client *redis.Client, config Config, logger *slog.Logger) *RedisWindow {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Max <= 0 {
		config.Max = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisWindow{
		client:   client,
		config:   config,
		logger:   logger.With("component", "ratelimit"),
		fallback: NewFixedWindow(config),
	}
}

// Allow increments the shared counter for the key's current bucket and
// rejects once it passes Max.
func (l *RedisWindow) Allow(ctx context.Context, key string) error {
	bucket := time.Now().UnixMilli() / l.config.Window.Milliseconds()
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, bucket)

	pipe := l.client.TxPipeline()
	countCmd := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*l.config.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("redis unavailable, using local window",
			"key", key,
			"error", err,
		)
		return l.fallback.Allow(ctx, key)
	}

	if countCmd.Val() > int64(l.config.Max) {
		return errors.NewError(errors.ErrorTypeRateLimit, l.config.message()).
			WithDetail("key", key).
			WithDetail("limit", l.config.Max)
	}
	return nil
}

// Stop terminates the fallback limiter's sweeper
func (l *RedisWindow) Stop() {
	l.fallback.Stop()
}
