// Package config provides layered configuration for the profiler: defaults,
// an optional YAML file and STACKTAPE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and saving the configuration file.
type Loader struct {
	path string
}

// NewLoader creates a new config loader.
// The config file is resolved in this order:
//  1. STACKTAPE_CONFIG environment variable (a file path).
//  2. ~/.stacktape/config.yaml.
//  3. /tmp/stacktape-fallback/config.yaml (containers without a home dir).
func NewLoader() *Loader {
	if path := os.Getenv("STACKTAPE_CONFIG"); path != "" {
		return &Loader{path: path}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Config files won't exist here, so Load returns defaults + env overrides.
		homeDir = filepath.Join(os.TempDir(), "stacktape-fallback")
	}
	return &Loader{path: filepath.Join(homeDir, DefaultDir, ConfigFile)}
}

// NewLoaderAt returns a loader for an explicit config file.
func NewLoaderAt(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load loads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg, err := NewLayeredLoader().Load(l.path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration file.
func (l *Loader) Save(cfg *Config) error {
	dir := filepath.Dir(l.path)
	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	//nolint:gosec // G306: Config holds no secrets.
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Load is a shortcut for NewLoader().Load().
func Load() (*Config, error) {
	return NewLoader().Load()
}
