package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"gateway/internal/balancer"
)

// NewHTTPProbe probes a backend by requesting path on it; any status
// below 400 counts as healthy.
func NewHTTPProbe(path string) balancer.Probe {
	if path == "" {
		path = "/health"
	}
	client := &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
	}

	return func(ctx context.Context, backendURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, backendURL+path, nil)
		if err != nil {
			return fmt.Errorf("creating probe request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
		}
		return nil
	}
}

// NewTCPProbe probes a backend by opening and closing a TCP connection
func NewTCPProbe() balancer.Probe {
	return func(ctx context.Context, backendURL string) error {
		addr, err := hostPort(backendURL)
		if err != nil {
			return err
		}

		dialer := &net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("tcp connect failed: %w", err)
		}
		return conn.Close()
	}
}

// NewGRPCProbe probes a backend via the standard gRPC health service
func NewGRPCProbe(service string) balancer.Probe {
	return func(ctx context.Context, backendURL string) error {
		addr, err := hostPort(backendURL)
		if err != nil {
			return err
		}

		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("grpc client: %w", err)
		}
		defer conn.Close()

		resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{
			Service: service,
		})
		if err != nil {
			return fmt.Errorf("grpc health check failed: %w", err)
		}
		if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
			return fmt.Errorf("not serving: %v", resp.Status)
		}
		return nil
	}
}

func hostPort(backendURL string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", fmt.Errorf("invalid backend URL %q: %w", backendURL, err)
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(host, port), nil
}
