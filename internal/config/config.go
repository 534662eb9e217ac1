// Package config loads the demo CLI's runtime settings from a YAML
// file, with flag overrides layered on top by the cobra command.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config controls a single demo Ring Context.
type Config struct {
	Depth       uint32 `yaml:"depth"`
	Polled      bool   `yaml:"polled"`
	WorkerCount int    `yaml:"worker_count"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Depth:    32,
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file, starting from Default so
// missing fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
