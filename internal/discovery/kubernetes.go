package discovery

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// serviceLabel names the gateway service a Kubernetes Service feeds.
// Services without it are ignored.
const serviceLabel = "gateway.io/service"

// KubernetesConfig holds Kubernetes discovery settings
type KubernetesConfig struct {
	// Kubeconfig path; empty uses the in-cluster config
	Kubeconfig string `yaml:"kubeconfig"`
	// Namespace to watch; empty means all namespaces
	Namespace string `yaml:"namespace"`
	// PortName selects a named endpoint port; empty uses the first
	PortName string `yaml:"portName"`
}

// KubernetesSource resolves backend URLs from Endpoints of labelled
// Services, so each ready pod address becomes a pool member.
type KubernetesSource struct {
	config KubernetesConfig
	client kubernetes.Interface
}

// NewKubernetesSource builds a source from kubeconfig or in-cluster config
func NewKubernetesSource(config KubernetesConfig) (*KubernetesSource, error) {
	var restConfig *rest.Config
	var err error
	if config.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", config.Kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("kubernetes config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return &KubernetesSource{config: config, client: client}, nil
}

// NewKubernetesSourceWithClient wires an existing client, used by tests
func NewKubernetesSourceWithClient(config KubernetesConfig, client kubernetes.Interface) *KubernetesSource {
	return &KubernetesSource{config: config, client: client}
}

// Name implements Source
func (s *KubernetesSource) Name() string { return "kubernetes" }

// Resolve lists Endpoints of labelled Services and maps each ready
// address to a backend URL.
func (s *KubernetesSource) Resolve(ctx context.Context) (map[string][]string, error) {
	endpoints, err := s.client.CoreV1().Endpoints(s.config.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: serviceLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("listing endpoints: %w", err)
	}

	resolved := make(map[string][]string)
	for _, ep := range endpoints.Items {
		service := ep.Labels[serviceLabel]
		if service == "" {
			continue
		}
		for _, subset := range ep.Subsets {
			port, ok := s.pickPort(subset)
			if !ok {
				continue
			}
			for _, addr := range subset.Addresses {
				resolved[service] = append(resolved[service],
					fmt.Sprintf("http://%s:%d", addr.IP, port))
			}
		}
	}
	return resolved, nil
}

func (s *KubernetesSource) pickPort(subset corev1.EndpointSubset) (int32, bool) {
	if len(subset.Ports) == 0 {
		return 0, false
	}
	if s.config.PortName == "" {
		return subset.Ports[0].Port, true
	}
	for _, p := range subset.Ports {
		if p.Name == s.config.PortName {
			return p.Port, true
		}
	}
	return 0, false
}
