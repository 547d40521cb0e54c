package config

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Default returns the built-in defaults. Loaded files are decoded on
// top of this, so absent keys keep their default values.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		// The embedded file ships with the binary; failing to parse it
		// is a build defect, not a runtime condition.
		panic("config: embedded default.yaml: " + err.Error())
	}
	return &cfg
}
