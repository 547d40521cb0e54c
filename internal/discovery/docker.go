package discovery

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// Container labels understood by the Docker source. gateway.service
// names the pool a container joins; gateway.port overrides the port.
const (
	dockerServiceLabel = "gateway.service"
	dockerPortLabel    = "gateway.port"
)

// DockerConfig holds Docker discovery settings
type DockerConfig struct {
	// Host is the Docker daemon address; empty uses the default socket
	Host string `yaml:"host"`
	// Network selects which container network's IP to use; empty takes
	// the first network with an address
	Network string `yaml:"network"`
}

// DockerSource resolves backend URLs from running containers carrying
// the gateway.service label.
type DockerSource struct {
	config DockerConfig
	client client.ContainerAPIClient
}

// NewDockerSource connects to the Docker daemon
func NewDockerSource(config DockerConfig) (*DockerSource, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if config.Host != "" {
		opts = append(opts, client.WithHost(config.Host))
	}

	dockerClient, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerSource{config: config, client: dockerClient}, nil
}

// NewDockerSourceWithClient wires an existing client, used by tests
func NewDockerSourceWithClient(config DockerConfig, c client.ContainerAPIClient) *DockerSource {
	return &DockerSource{config: config, client: c}
}

// Name implements Source
func (s *DockerSource) Name() string { return "docker" }

// Resolve lists running labelled containers and maps each to a URL on
// its network address.
func (s *DockerSource) Resolve(ctx context.Context) (map[string][]string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", dockerServiceLabel)
	filterArgs.Add("status", "running")

	containers, err := s.client.ContainerList(ctx, container.ListOptions{Filters: filterArgs})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	resolved := make(map[string][]string)
	for _, c := range containers {
		service := c.Labels[dockerServiceLabel]
		if service == "" {
			continue
		}

		ip := s.containerIP(c)
		if ip == "" {
			continue
		}
		port, ok := containerPort(c)
		if !ok {
			continue
		}

		resolved[service] = append(resolved[service], fmt.Sprintf("http://%s:%d", ip, port))
	}
	return resolved, nil
}

func (s *DockerSource) containerIP(c types.Container) string {
	if c.NetworkSettings == nil {
		return ""
	}
	if s.config.Network != "" {
		if net, ok := c.NetworkSettings.Networks[s.config.Network]; ok {
			return net.IPAddress
		}
		return ""
	}
	for _, net := range c.NetworkSettings.Networks {
		if net.IPAddress != "" {
			return net.IPAddress
		}
	}
	return ""
}

func containerPort(c types.Container) (int, bool) {
	if portStr, ok := c.Labels[dockerPortLabel]; ok {
		port, err := strconv.Atoi(portStr)
		return port, err == nil
	}
	for _, p := range c.Ports {
		if p.PrivatePort > 0 {
			return int(p.PrivatePort), true
		}
	}
	return 0, false
}
