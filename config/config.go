// Package config loads the rule engine service configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Store   StoreConfig   `yaml:"store"`
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig tunes the engine core.
type EngineConfig struct {
	// RetryDelayMillis is the rule initialization retry delay.
	RetryDelayMillis int `yaml:"retryDelayMillis"`
	// RunLevel gates start-level triggered rules at startup.
	RunLevel int `yaml:"runLevel"`
}

// StoreConfig selects the disabled-rule store.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the SQLite database path.
	Path string `yaml:"path"`
}

// NATSConfig enables the NATS trigger factory and status publisher.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	StatusSubject string `yaml:"statusSubject"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{RetryDelayMillis: 500, RunLevel: 50},
		Store:  StoreConfig{Driver: "memory", Path: "data/ruleengine.db"},
		NATS:   NATSConfig{URL: "nats://127.0.0.1:4222", StatusSubject: "ruleengine.status"},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			Namespace: "ruleengine",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent configurations.
func (c *Config) Validate() error {
	if c.Engine.RetryDelayMillis < 0 {
		return fmt.Errorf("engine.retryDelayMillis must not be negative")
	}
	switch c.Store.Driver {
	case "", "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required with the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}
