package discovery

import "context"

// StaticSource serves a fixed service-to-URL map. It exists so
// statically configured pools flow through the same reconciliation
// path as dynamic sources, which keeps reload behavior uniform.
type StaticSource struct {
	services map[string][]string
}

// NewStaticSource creates a source over a fixed map
func NewStaticSource(services map[string][]string) *StaticSource {
	copied := make(map[string][]string, len(services))
	for name, urls := range services {
		copied[name] = append([]string(nil), urls...)
	}
	return &StaticSource{services: copied}
}

// Name implements Source
func (s *StaticSource) Name() string { return "static" }

// Resolve returns the configured map
func (s *StaticSource) Resolve(context.Context) (map[string][]string, error) {
	return s.services, nil
}
