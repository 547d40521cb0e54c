package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gateway/internal/config"
)

func testConfig(backendURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Health.Enabled = false
	cfg.Services = []config.ServiceConfig{{
		Name:   "users",
		Prefix: "/api/users",
		URL:    backendURL,
	}}
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()

	a, err := New(cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestGatewayForwardsToBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "backend saw %s", r.URL.Path)
	}))
	defer backend.Close()

	a := startApp(t, testConfig(backend.URL))

	resp, body := get(t, "http://"+a.Addr()+"/api/users/42")
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body != "backend saw /42" {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}
}

func TestGatewayUnmatchedPathIs404(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	a := startApp(t, testConfig(backend.URL))

	resp, body := get(t, "http://"+a.Addr()+"/nope")
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	var payload errorResponse
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if payload.Error.Type != "not_found" {
		t.Errorf("error type = %q, want not_found", payload.Error.Type)
	}
	if payload.RequestID == "" {
		t.Error("missing request ID in error body")
	}
}

func TestGatewayRateLimits(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	cfg := testConfig(backend.URL)
	cfg.RateLimit = config.RateLimitConfig{
		Enabled: true,
		Window:  config.Duration(time.Minute),
		Max:     2,
		Message: "too many requests, slow down",
	}

	a := startApp(t, cfg)

	url := "http://" + a.Addr() + "/api/users"
	for i := 0; i < 2; i++ {
		if resp, _ := get(t, url); resp.StatusCode != 200 {
			t.Fatalf("request %d: status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp, body := get(t, url)
	if resp.StatusCode != 429 {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if !strings.Contains(body, "too many requests, slow down") {
		t.Errorf("body %q missing configured message", body)
	}

	_, metricsBody := get(t, "http://"+a.Addr()+"/metrics")
	if !strings.Contains(metricsBody, "gateway_rate_limit_rejections_total 1") {
		t.Error("rejection not counted in metrics")
	}
}

func TestGatewayUnmatchedPathIs404WhenOverQuota(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	cfg := testConfig(backend.URL)
	cfg.RateLimit = config.RateLimitConfig{
		Enabled: true,
		Window:  config.Duration(time.Minute),
		Max:     1,
		Message: "too many requests, slow down",
	}

	a := startApp(t, cfg)

	if resp, _ := get(t, "http://"+a.Addr()+"/api/users"); resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// Quota is exhausted, but a miss is still a miss
	if resp, _ := get(t, "http://"+a.Addr()+"/nope"); resp.StatusCode != 404 {
		t.Errorf("unmatched path status = %d, want 404", resp.StatusCode)
	}

	if resp, _ := get(t, "http://"+a.Addr()+"/api/users"); resp.StatusCode != 429 {
		t.Errorf("matched path status = %d, want 429", resp.StatusCode)
	}
}

func TestGatewayOpsEndpoints(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	a := startApp(t, testConfig(backend.URL))

	if resp, _ := get(t, "http://"+a.Addr()+"/health/live"); resp.StatusCode != 200 {
		t.Errorf("/health/live status = %d", resp.StatusCode)
	}

	resp, body := get(t, "http://"+a.Addr()+"/metrics")
	if resp.StatusCode != 200 || !strings.Contains(body, "go_goroutines") {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}

	// One request so the stats have something to show
	get(t, "http://"+a.Addr()+"/api/users")

	_, body = get(t, "http://"+a.Addr()+"/admin/stats")
	var stats struct {
		Routes []struct {
			Name     string `json:"name"`
			Versions map[string]struct {
				TotalRequests uint64 `json:"totalRequests"`
			} `json:"versions"`
		} `json:"routes"`
	}
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("stats body is not JSON: %v", err)
	}
	if len(stats.Routes) != 1 || stats.Routes[0].Name != "users" {
		t.Fatalf("stats routes = %+v", stats.Routes)
	}
	if stats.Routes[0].Versions["stable"].TotalRequests != 1 {
		t.Errorf("totalRequests = %d, want 1", stats.Routes[0].Versions["stable"].TotalRequests)
	}
}

func TestGatewayReloadSwapsRoutes(t *testing.T) {
	usersBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "users")
	}))
	defer usersBackend.Close()
	ordersBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "orders")
	}))
	defer ordersBackend.Close()

	a := startApp(t, testConfig(usersBackend.URL))

	if resp, _ := get(t, "http://"+a.Addr()+"/api/users"); resp.StatusCode != 200 {
		t.Fatalf("pre-reload status = %d", resp.StatusCode)
	}

	next := testConfig(usersBackend.URL)
	next.Services = []config.ServiceConfig{{
		Name:   "orders",
		Prefix: "/api/orders",
		URL:    ordersBackend.URL,
	}}
	if err := a.Reload(next); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if resp, _ := get(t, "http://"+a.Addr()+"/api/users"); resp.StatusCode != 404 {
		t.Errorf("old route status = %d, want 404", resp.StatusCode)
	}
	resp, body := get(t, "http://"+a.Addr()+"/api/orders")
	if resp.StatusCode != 200 || body != "orders" {
		t.Errorf("new route: status = %d body = %q", resp.StatusCode, body)
	}
}

func TestGatewayRejectsBadReload(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	a := startApp(t, testConfig(backend.URL))

	bad := testConfig(backend.URL)
	bad.Services[0].URL = ""
	if err := a.Reload(bad); err == nil {
		t.Fatal("expected reload error for empty pool")
	}

	// The previous routes keep serving
	if resp, _ := get(t, "http://"+a.Addr()+"/api/users"); resp.StatusCode != 200 {
		t.Errorf("status after failed reload = %d, want 200", resp.StatusCode)
	}
}
