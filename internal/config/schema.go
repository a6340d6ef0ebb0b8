package config

import (
	"time"
)

// SchemaVersion is the configuration schema version.
const SchemaVersion = "1"

// Config represents ~/.stacktape/config.yaml. Every field can be overridden
// by the environment variable named in its env tag.
type Config struct {
	Version string `yaml:"version" jsonschema:"description=Configuration schema version"`

	// Disable turns the profiler into a no-op.
	Disable bool `yaml:"disable" env:"STACKTAPE_DISABLE" jsonschema:"description=Disable profiling entirely"`

	Sampling SamplingConfig `yaml:"sampling"`
	Storage  StorageConfig  `yaml:"storage"`
	Viewer   ViewerConfig   `yaml:"viewer"`
	Logging  LoggingConfig  `yaml:"logging"`

	// CaptureStdout tees the process stdout into Info markers.
	CaptureStdout bool `yaml:"capture_stdout" env:"STACKTAPE_CAPTURE_STDOUT" jsonschema:"description=Record lines written to stdout as markers"`
	// StopTimeout bounds how long Stop waits for the background loops.
	StopTimeout time.Duration `yaml:"stop_timeout" env:"STACKTAPE_STOP_TIMEOUT" jsonschema:"description=Maximum time to wait for sampling loops on stop"`
}

// SamplingConfig holds the sampling cadences.
type SamplingConfig struct {
	SampleDelay     time.Duration `yaml:"sample_delay" env:"STACKTAPE_SAMPLE_DELAY" jsonschema:"description=Interval between stack samples"`
	StatusDelay     time.Duration `yaml:"status_delay" env:"STACKTAPE_STATUS_DELAY" jsonschema:"description=Interval between resource status samples"`
	MemoryDelay     time.Duration `yaml:"memory_delay" env:"STACKTAPE_MEMORY_DELAY" jsonschema:"description=Minimum interval between memory measurements"`
	MemoryWarningGB int           `yaml:"memory_warning_gb" env:"STACKTAPE_MEMORY_WARNING_GB" jsonschema:"description=RSS in GiB above which the sample interval grows"`
}

// StorageConfig selects where recordings are written.
type StorageConfig struct {
	// Root is the local directory recordings are stored under.
	Root string `yaml:"root" env:"STACKTAPE_ROOT" jsonschema:"description=Local directory for recordings"`
	// URL selects a storage backend (file:// or duckdb://). Empty means Root.
	URL string `yaml:"url,omitempty" env:"STACKTAPE_STORAGE" jsonschema:"description=Storage location URL (file:// or duckdb://)"`
}

// ViewerConfig configures the viewer notification.
type ViewerConfig struct {
	Server        string `yaml:"server" env:"STACKTAPE_SERVER" jsonschema:"description=Viewer base URL notified after each save"`
	NotifyRetries int    `yaml:"notify_retries" env:"STACKTAPE_NOTIFY_RETRIES" jsonschema:"description=Retries for the save notification"`
}

// LoggingConfig configures the profiler's own diagnostics.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"STACKTAPE_LOG_LEVEL" jsonschema:"description=Log level,enum=trace,enum=debug,enum=info,enum=warn,enum=error,enum=disabled"`
	Pretty bool   `yaml:"pretty" env:"STACKTAPE_LOG_PRETTY" jsonschema:"description=Human-readable log output"`
}
