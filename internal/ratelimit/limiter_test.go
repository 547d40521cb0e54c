package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"gateway/internal/core"
	"gateway/pkg/errors"
)

func TestFixedWindowRejectsOverLimit(t *testing.T) {
	l := NewFixedWindow(Config{
		Window:  time.Minute,
		Max:     3,
		Message: "too many requests, slow down",
	})
	defer l.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, "client-1"); err != nil {
			t.Fatalf("request %d should be allowed: %v", i+1, err)
		}
	}

	err := l.Allow(ctx, "client-1")
	if err == nil {
		t.Fatal("4th request in the window should be rejected")
	}
	if errors.TypeOf(err) != errors.ErrorTypeRateLimit {
		t.Errorf("error type = %s, want %s", errors.TypeOf(err), errors.ErrorTypeRateLimit)
	}

	var e *errors.Error
	if !errors.As(err, &e) || e.Message != "too many requests, slow down" {
		t.Errorf("rejection should carry the configured message, got %v", err)
	}
}

func TestFixedWindowResetsAfterWindow(t *testing.T) {
	l := NewFixedWindow(Config{Window: 50 * time.Millisecond, Max: 1})
	defer l.Stop()

	ctx := context.Background()
	if err := l.Allow(ctx, "client-1"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow(ctx, "client-1"); err == nil {
		t.Fatal("second request in the window should be rejected")
	}

	time.Sleep(60 * time.Millisecond)
	if err := l.Allow(ctx, "client-1"); err != nil {
		t.Errorf("request in the next window should be allowed: %v", err)
	}
}

func TestFixedWindowKeysAreIndependent(t *testing.T) {
	l := NewFixedWindow(Config{Window: time.Minute, Max: 1})
	defer l.Stop()

	ctx := context.Background()
	if err := l.Allow(ctx, "client-1"); err != nil {
		t.Fatalf("client-1: %v", err)
	}
	if err := l.Allow(ctx, "client-2"); err != nil {
		t.Errorf("client-2 should have its own window: %v", err)
	}
}

func TestByIPStripsPort(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/users", nil)
	req.RemoteAddr = "10.0.0.7:54321"

	if got := ByIP(context.Background(), core.NewHTTPRequest("test", req)); got != "10.0.0.7" {
		t.Errorf("ByIP = %q, want 10.0.0.7", got)
	}
}

func TestByPrincipalFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/users", nil)
	req.RemoteAddr = "10.0.0.7:54321"
	r := core.NewHTTPRequest("test", req)

	ctx := core.WithIdentity(context.Background(), &core.Identity{Principal: "alice"})
	if got := ByPrincipal(ctx, r); got != "alice" {
		t.Errorf("ByPrincipal = %q, want alice", got)
	}

	if got := ByPrincipal(context.Background(), r); got != "10.0.0.7" {
		t.Errorf("anonymous ByPrincipal = %q, want 10.0.0.7", got)
	}
}

func TestRedisWindowSharedQuota(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	l := NewRedisWindow(client, Config{Window: time.Minute, Max: 2, Message: "shared quota hit"}, nil)
	defer l.Stop()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, "client-1"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	err := l.Allow(ctx, "client-1")
	if errors.TypeOf(err) != errors.ErrorTypeRateLimit {
		t.Fatalf("3rd request: error type = %s, want rate_limit", errors.TypeOf(err))
	}

	// Other keys still pass
	if err := l.Allow(ctx, "client-2"); err != nil {
		t.Errorf("client-2 should be unaffected: %v", err)
	}
}

func TestRedisWindowFallsBackWhenRedisDown(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	l := NewRedisWindow(client, Config{Window: time.Minute, Max: 1}, nil)
	defer l.Stop()

	srv.Close()

	ctx := context.Background()
	if err := l.Allow(ctx, "client-1"); err != nil {
		t.Fatalf("fallback first request: %v", err)
	}
	if err := l.Allow(ctx, "client-1"); err == nil {
		t.Error("fallback should still enforce the quota")
	}
}
