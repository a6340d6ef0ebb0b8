package config

import (
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/stacktape/internal/safe"
)

// Layer names one source of configuration values.
type Layer string

// Layers in the order they are applied; later layers override earlier ones.
const (
	LayerDefaults Layer = "defaults"
	LayerFile     Layer = "file"
	LayerEnv      Layer = "env"
)

var layerOrder = []Layer{LayerDefaults, LayerFile, LayerEnv}

// LayeredLoader merges the defaults, a YAML file and STACKTAPE_*
// environment variables into one Config.
type LayeredLoader struct {
	disabled map[Layer]bool
}

// NewLayeredLoader creates a loader with every layer enabled.
func NewLayeredLoader() *LayeredLoader {
	return &LayeredLoader{disabled: map[Layer]bool{}}
}

// EnableLayer turns a layer back on.
func (l *LayeredLoader) EnableLayer(layer Layer) {
	delete(l.disabled, layer)
}

// DisableLayer skips a layer during Load.
func (l *LayeredLoader) DisableLayer(layer Layer) {
	l.disabled[layer] = true
}

// Load builds a config from the enabled layers. A missing file at
// configPath is not an error.
func (l *LayeredLoader) Load(configPath string) (*Config, error) {
	cfg := &Config{}
	for _, layer := range layerOrder {
		if l.disabled[layer] {
			continue
		}
		var err error
		switch layer {
		case LayerDefaults:
			cfg = Default()
		case LayerFile:
			err = applyFile(cfg, configPath)
		case LayerEnv:
			if err = LoadFromEnv(cfg); err != nil {
				err = fmt.Errorf("failed to load environment variables: %w", err)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := safe.ReadFile(path, &safe.ReadOptions{AllowSymlinks: true})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}
