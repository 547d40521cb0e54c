package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"gateway/internal/balancer"
	"gateway/internal/circuitbreaker"
)

type fakeSource struct {
	resolved map[string][]string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Resolve(context.Context) (map[string][]string, error) {
	return f.resolved, nil
}

func newPool(urls ...string) *balancer.Balancer {
	return balancer.New("users", urls, balancer.StrategyRoundRobin, circuitbreaker.DefaultConfig())
}

func TestRunnerReconcilesPool(t *testing.T) {
	pool := newPool("http://old:8080", "http://kept:8080")
	src := &fakeSource{resolved: map[string][]string{
		"users": {"http://kept:8080", "http://new:8080"},
	}}

	r := NewRunner(src, time.Hour, nil)
	r.Register("users", pool)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	urls := pool.URLs()
	if len(urls) != 2 {
		t.Fatalf("pool = %v, want 2 URLs", urls)
	}
	want := map[string]bool{"http://kept:8080": true, "http://new:8080": true}
	for _, u := range urls {
		if !want[u] {
			t.Errorf("unexpected pool member %q", u)
		}
	}
}

func TestRunnerKeepsPoolWhenServiceUnreported(t *testing.T) {
	pool := newPool("http://a:8080")
	src := &fakeSource{resolved: map[string][]string{}}

	r := NewRunner(src, time.Hour, nil)
	r.Register("users", pool)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if got := pool.URLs(); len(got) != 1 {
		t.Errorf("pool = %v, want untouched membership", got)
	}
}

type failingSource struct{}

func (failingSource) Name() string { return "failing" }

func (failingSource) Resolve(context.Context) (map[string][]string, error) {
	return nil, errors.New("source unreachable")
}

func TestRunnerStopReturnsAfterFailedStart(t *testing.T) {
	r := NewRunner(failingSource{}, time.Hour, nil)

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected the initial sync error")
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after a failed Start")
	}
}

func TestStaticSourceResolvesCopy(t *testing.T) {
	src := NewStaticSource(map[string][]string{"users": {"http://a:1"}})

	resolved, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved["users"]) != 1 || resolved["users"][0] != "http://a:1" {
		t.Errorf("resolved = %v", resolved)
	}
}

func TestKubernetesSourceResolvesEndpoints(t *testing.T) {
	client := k8sfake.NewSimpleClientset(
		&corev1.Endpoints{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "users-svc",
				Namespace: "default",
				Labels:    map[string]string{serviceLabel: "users"},
			},
			Subsets: []corev1.EndpointSubset{{
				Addresses: []corev1.EndpointAddress{
					{IP: "10.0.0.1"},
					{IP: "10.0.0.2"},
				},
				Ports: []corev1.EndpointPort{{Name: "http", Port: 8080}},
			}},
		},
		// No gateway label: must be ignored
		&corev1.Endpoints{
			ObjectMeta: metav1.ObjectMeta{Name: "other-svc", Namespace: "default"},
			Subsets: []corev1.EndpointSubset{{
				Addresses: []corev1.EndpointAddress{{IP: "10.0.0.9"}},
				Ports:     []corev1.EndpointPort{{Port: 80}},
			}},
		},
	)

	src := NewKubernetesSourceWithClient(KubernetesConfig{Namespace: "default"}, client)

	resolved, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	urls := resolved["users"]
	if len(urls) != 2 {
		t.Fatalf("users = %v, want 2 URLs", urls)
	}
	want := map[string]bool{"http://10.0.0.1:8080": true, "http://10.0.0.2:8080": true}
	for _, u := range urls {
		if !want[u] {
			t.Errorf("unexpected URL %q", u)
		}
	}
	if _, ok := resolved["other-svc"]; ok {
		t.Error("unlabelled service should not be resolved")
	}
}

func TestKubernetesSourcePicksNamedPort(t *testing.T) {
	client := k8sfake.NewSimpleClientset(&corev1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "users-svc",
			Namespace: "default",
			Labels:    map[string]string{serviceLabel: "users"},
		},
		Subsets: []corev1.EndpointSubset{{
			Addresses: []corev1.EndpointAddress{{IP: "10.0.0.1"}},
			Ports: []corev1.EndpointPort{
				{Name: "metrics", Port: 9090},
				{Name: "http", Port: 8080},
			},
		}},
	})

	src := NewKubernetesSourceWithClient(KubernetesConfig{Namespace: "default", PortName: "http"}, client)

	resolved, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolved["users"]) != 1 || resolved["users"][0] != "http://10.0.0.1:8080" {
		t.Errorf("resolved = %v, want the named http port", resolved["users"])
	}
}
