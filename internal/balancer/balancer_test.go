package balancer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gateway/internal/circuitbreaker"
	"gateway/pkg/errors"
)

func testURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("http://backend-%d:8080", i)
	}
	return urls
}

func TestRoundRobinCyclesInOrder(t *testing.T) {
	urls := testURLs(3)
	b := New("users", urls, StrategyRoundRobin, circuitbreaker.DefaultConfig())

	for cycle := 0; cycle < 2; cycle++ {
		for i, want := range urls {
			got, err := b.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if got != want {
				t.Fatalf("cycle %d call %d = %s, want %s", cycle, i, got, want)
			}
		}
	}
}

func TestNextSkipsUnhealthyBackends(t *testing.T) {
	urls := testURLs(3)
	b := New("users", urls, StrategyRoundRobin, circuitbreaker.DefaultConfig())
	b.Pool().SetHealthy(urls[1], false)

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		url, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[url]++
	}

	if seen[urls[1]] != 0 {
		t.Errorf("unhealthy backend was selected %d times", seen[urls[1]])
	}
	if seen[urls[0]] != 3 || seen[urls[2]] != 3 {
		t.Errorf("expected even split across healthy backends, got %v", seen)
	}
}

func TestNextSkipsOpenBreakers(t *testing.T) {
	urls := testURLs(2)
	b := New("users", urls, StrategyRoundRobin, circuitbreaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	})

	b.Breakers().Get(urls[0]).Failure()

	for i := 0; i < 4; i++ {
		url, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if url != urls[1] {
			t.Fatalf("call %d selected %s, want %s (breaker open)", i, url, urls[1])
		}
	}
}

func TestNextNoHealthyBackend(t *testing.T) {
	urls := testURLs(2)
	b := New("users", urls, StrategyRoundRobin, circuitbreaker.DefaultConfig())
	b.Pool().SetHealthy(urls[0], false)
	b.Pool().SetHealthy(urls[1], false)

	_, err := b.Next()
	if err == nil {
		t.Fatal("expected error when all backends are unhealthy")
	}
	if errors.TypeOf(err) != errors.ErrorTypeUnavailable {
		t.Errorf("error type = %s, want %s", errors.TypeOf(err), errors.ErrorTypeUnavailable)
	}
}

func TestWeightedDistribution(t *testing.T) {
	urls := testURLs(2)
	b := New("users", urls, StrategyWeighted, circuitbreaker.DefaultConfig())
	b.SetWeights(map[string]int{urls[0]: 9, urls[1]: 1})

	const draws = 10000
	seen := make(map[string]int)
	for i := 0; i < draws; i++ {
		url, err := b.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen[url]++
	}

	ratio := float64(seen[urls[0]]) / draws
	if ratio < 0.85 || ratio > 0.95 {
		t.Errorf("weight-9 backend took %.2f of traffic, want ~0.90", ratio)
	}
}

func TestWeightedDefaultsToOne(t *testing.T) {
	urls := testURLs(2)
	b := New("users", urls, StrategyWeighted, circuitbreaker.DefaultConfig())
	// No weights configured: even split expected

	const draws = 10000
	seen := make(map[string]int)
	for i := 0; i < draws; i++ {
		url, _ := b.Next()
		seen[url]++
	}

	ratio := float64(seen[urls[0]]) / draws
	if ratio < 0.45 || ratio > 0.55 {
		t.Errorf("unweighted backend took %.2f of traffic, want ~0.50", ratio)
	}
}

func TestRemoveURLClearsBreakerHistory(t *testing.T) {
	urls := testURLs(2)
	b := New("users", urls, StrategyRoundRobin, circuitbreaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	})

	b.Breakers().Get(urls[0]).Failure()
	if !b.RemoveURL(urls[0]) {
		t.Fatal("expected RemoveURL to report true")
	}
	if b.Pool().Len() != 1 {
		t.Fatalf("pool size = %d, want 1", b.Pool().Len())
	}

	// Re-adding starts with a clean breaker
	b.AddURL(urls[0])
	if !b.Breakers().Ready(urls[0]) {
		t.Error("re-added URL should start with a closed breaker")
	}
}

func TestPoolRecordResult(t *testing.T) {
	urls := testURLs(1)
	p := NewPool(urls)

	p.RecordResult(urls[0], true, 100*time.Millisecond)
	p.RecordResult(urls[0], false, 0)

	stats := p.Snapshot()
	if len(stats) != 1 {
		t.Fatalf("expected 1 backend, got %d", len(stats))
	}
	s := stats[0]
	if s.Successes != 1 || s.Failures != 1 {
		t.Errorf("successes/failures = %d/%d, want 1/1", s.Successes, s.Failures)
	}
	if s.AvgLatency != 100*time.Millisecond {
		t.Errorf("avg latency = %s, want 100ms (first sample)", s.AvgLatency)
	}

	// Second sample is folded in with the smoothing factor
	p.RecordResult(urls[0], true, 200*time.Millisecond)
	s = p.Snapshot()[0]
	want := time.Duration(float64(100*time.Millisecond)*0.9 + float64(200*time.Millisecond)*0.1)
	if s.AvgLatency != want {
		t.Errorf("avg latency = %s, want %s", s.AvgLatency, want)
	}
}

func TestPoolCheckHealth(t *testing.T) {
	urls := testURLs(3)
	p := NewPool(urls)

	p.CheckHealth(context.Background(), func(ctx context.Context, url string) error {
		if url == urls[1] {
			return fmt.Errorf("connection refused")
		}
		return nil
	})

	if !p.Healthy(urls[0]) || !p.Healthy(urls[2]) {
		t.Error("passing backends should be healthy")
	}
	if p.Healthy(urls[1]) {
		t.Error("failing backend should be unhealthy")
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"round-robin", StrategyRoundRobin, false},
		{"random", StrategyRandom, false},
		{"weighted", StrategyWeighted, false},
		{"", StrategyRoundRobin, false},
		{"least-conn", "", true},
	}

	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
