package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"gateway/pkg/errors"
)

// Loader loads configuration from file
type Loader struct {
	path       string
	envEnabled bool
}

// NewLoader creates a config loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envEnabled: true, // Enable env vars by default
	}
}

// WithEnvVars enables or disables environment variable overrides
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// Load reads, decodes, applies env overrides and validates the
// configuration. The file format is chosen by extension: .json is
// decoded as JSON, everything else as YAML.
func (l *Loader) Load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to read config file").WithCause(err)
	}

	cfg := Default()
	if err := decode(l.path, data, cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to parse config").
			WithCause(err).
			WithDetail("path", l.path)
	}

	if l.envEnabled {
		if err := LoadEnv(cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to apply environment overrides").WithCause(err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrorTypeInternal, "invalid configuration").
			WithCause(err).
			WithDetail("path", l.path)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}
