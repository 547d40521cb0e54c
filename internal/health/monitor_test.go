package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gateway/internal/balancer"
)

func TestMonitorMarksUnhealthyAfterThreshold(t *testing.T) {
	pool := balancer.NewPool([]string{"http://b1:8080"})

	var failing atomic.Bool
	probe := func(ctx context.Context, url string) error {
		if failing.Load() {
			return fmt.Errorf("connection refused")
		}
		return nil
	}

	m := NewMonitor(Config{Interval: time.Hour, Timeout: time.Second, FailThreshold: 2}, nil)
	m.Watch(Target{Service: "users", Version: "stable", Pool: pool, Probe: probe})

	ctx := context.Background()

	failing.Store(true)
	m.Sweep(ctx)
	if !pool.Healthy("http://b1:8080") {
		t.Fatal("one failure should not cross the threshold")
	}

	m.Sweep(ctx)
	if pool.Healthy("http://b1:8080") {
		t.Fatal("two consecutive failures should mark the backend unhealthy")
	}

	// A single success recovers immediately
	failing.Store(false)
	m.Sweep(ctx)
	if !pool.Healthy("http://b1:8080") {
		t.Fatal("a passing probe should mark the backend healthy")
	}

	// The failure streak restarts from zero
	failing.Store(true)
	m.Sweep(ctx)
	if !pool.Healthy("http://b1:8080") {
		t.Fatal("failure streak should reset after recovery")
	}
}

func TestMonitorSnapshotAndReady(t *testing.T) {
	healthyPool := balancer.NewPool([]string{"http://a:1"})
	deadPool := balancer.NewPool([]string{"http://b:1"})
	deadPool.SetHealthy("http://b:1", false)

	m := NewMonitor(Config{}, nil)
	m.Watch(Target{Service: "users", Version: "stable", Pool: healthyPool})
	m.Watch(Target{Service: "orders", Version: "stable", Pool: deadPool})

	if m.Ready() {
		t.Error("monitor should not be ready while a pool has no healthy backend")
	}

	snapshot := m.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("snapshot has %d services, want 2", len(snapshot))
	}

	deadPool.SetHealthy("http://b:1", true)
	if !m.Ready() {
		t.Error("monitor should be ready once all pools have healthy backends")
	}
}

func TestHTTPProbeStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := NewHTTPProbe("/health")
	if err := probe(context.Background(), srv.URL); err != nil {
		t.Errorf("healthy backend: %v", err)
	}

	bad := NewHTTPProbe("/missing")
	if err := bad(context.Background(), srv.URL); err == nil {
		t.Error("404 probe response should be a failure")
	}
}

func TestTCPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	probe := NewTCPProbe()
	if err := probe(context.Background(), srv.URL); err != nil {
		t.Errorf("open port: %v", err)
	}
	if err := probe(context.Background(), "http://127.0.0.1:1"); err == nil {
		t.Error("closed port should fail")
	}
}

func TestHandlerReady(t *testing.T) {
	pool := balancer.NewPool([]string{"http://a:1"})
	m := NewMonitor(Config{}, nil)
	m.Watch(Target{Service: "users", Version: "stable", Pool: pool})

	h := NewHandler(m)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d, want 200", rec.Code)
	}

	var body struct {
		Status   string          `json:"status"`
		Services []ServiceHealth `json:"services"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ready" || len(body.Services) != 1 {
		t.Errorf("body = %+v", body)
	}

	pool.SetHealthy("http://a:1", false)
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d, want 503", rec.Code)
	}
}
