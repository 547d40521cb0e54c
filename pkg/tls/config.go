// Package tls builds listener TLS configuration from declarative
// settings.
package tls

import (
	"crypto/tls"
	"fmt"
)

// Config represents TLS settings for the gateway listener
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"certFile" json:"certFile"`
	KeyFile    string `yaml:"keyFile" json:"keyFile"`
	MinVersion string `yaml:"minVersion" json:"minVersion"`
}

// ServerConfig builds the crypto/tls configuration for the listener,
// or nil when TLS is disabled.
func (c Config) ServerConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, fmt.Errorf("tls enabled without certFile and keyFile")
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   ParseTLSVersion(c.MinVersion),
	}, nil
}
