package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values.
const (
	DefaultSampleDelay     = 50 * time.Millisecond
	DefaultStatusDelay     = 100 * time.Millisecond
	DefaultMemoryDelay     = time.Second
	DefaultMemoryWarningGB = 32
	DefaultServer          = "http://localhost:7777"
	DefaultStopTimeout     = 5 * time.Second
	DefaultNotifyRetries   = 2
	DefaultDir             = ".stacktape"
	ConfigFile             = "config.yaml"
)

// DefaultRoot returns ~/stacktape, or a temp directory when there is no home.
func DefaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "stacktape")
	}
	return filepath.Join(home, "stacktape")
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: SchemaVersion,
		Sampling: SamplingConfig{
			SampleDelay:     DefaultSampleDelay,
			StatusDelay:     DefaultStatusDelay,
			MemoryDelay:     DefaultMemoryDelay,
			MemoryWarningGB: DefaultMemoryWarningGB,
		},
		Storage: StorageConfig{
			Root: DefaultRoot(),
		},
		Viewer: ViewerConfig{
			Server:        DefaultServer,
			NotifyRetries: DefaultNotifyRetries,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Pretty: true,
		},
		StopTimeout: DefaultStopTimeout,
	}
}
