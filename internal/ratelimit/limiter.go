package ratelimit

import (
	"context"
	"net"
	"sync"
	"time"

	"gateway/internal/core"
	"gateway/pkg/errors"
)

// Limiter decides whether a request identified by key may proceed.
// A rejection is reported as a rate_limit error carrying the
// user-facing message.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// Config holds rate limiter settings
type Config struct {
	// Window is the length of one counting window
	Window time.Duration
	// Max is the number of requests allowed per window
	Max int
	// Message is returned verbatim to rejected callers
	Message string
}

// DefaultMessage is used when no rejection message is configured
const DefaultMessage = "rate limit exceeded"

func (c Config) message() string {
	if c.Message == "" {
		return DefaultMessage
	}
	return c.Message
}

// FixedWindow counts requests in non-overlapping windows per key. A
// key's first request opens its window; the window expires Window
// later, and the next request opens a fresh one.
type FixedWindow struct {
	config Config

	mu      sync.Mutex
	windows map[string]*window

	stopCh chan struct{}
	done   chan struct{}
}

type window struct {
	start time.Time
	count int
}

// NewFixedWindow creates an in-memory fixed-window limiter and starts
// its stale-window sweeper.
func NewFixedWindow(config Config) *FixedWindow {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Max <= 0 {
		config.Max = 100
	}

	l := &FixedWindow{
		config:  config,
		windows: make(map[string]*window),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow admits up to Max requests per window per key. The (Max+1)th
// request in a window is rejected.
func (l *FixedWindow) Allow(_ context.Context, key string) error {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.config.Window {
		l.windows[key] = &window{start: now, count: 1}
		return nil
	}

	w.count++
	if w.count > l.config.Max {
		return errors.NewError(errors.ErrorTypeRateLimit, l.config.message()).
			WithDetail("key", key).
			WithDetail("limit", l.config.Max)
	}
	return nil
}

// Stop terminates the sweeper
func (l *FixedWindow) Stop() {
	close(l.stopCh)
	<-l.done
}

func (l *FixedWindow) sweepLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.Window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

// sweep drops windows that have been expired for a full window length
func (l *FixedWindow) sweep() {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.config.Window {
			delete(l.windows, key)
		}
	}
}

// KeyFunc extracts the client identity a request is counted under
type KeyFunc func(ctx context.Context, req core.Request) string

// ByIP keys requests by the caller's IP address
func ByIP(_ context.Context, req core.Request) string {
	addr := req.RemoteAddr()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// ByPrincipal keys requests by the authenticated principal, falling
// back to the IP for anonymous callers.
func ByPrincipal(ctx context.Context, req core.Request) string {
	if id := core.IdentityFrom(ctx); id != nil && id.Principal != "" {
		return id.Principal
	}
	return ByIP(ctx, req)
}
