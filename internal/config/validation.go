package config

import (
	"fmt"
	"net/url"
	"time"
)

// MinSampleDelay is the smallest accepted sample interval.
const MinSampleDelay = 5 * time.Millisecond

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Sampling.SampleDelay < 0 {
		return fmt.Errorf("sample delay must not be negative, got %s", c.Sampling.SampleDelay)
	}
	if c.Sampling.SampleDelay > 0 && c.Sampling.SampleDelay < MinSampleDelay {
		return fmt.Errorf("sample delay %s is below the minimum of %s", c.Sampling.SampleDelay, MinSampleDelay)
	}
	if c.Sampling.StatusDelay < 0 {
		return fmt.Errorf("status delay must not be negative, got %s", c.Sampling.StatusDelay)
	}
	if c.Sampling.MemoryDelay < 0 {
		return fmt.Errorf("memory delay must not be negative, got %s", c.Sampling.MemoryDelay)
	}
	if c.Sampling.MemoryWarningGB < 1 {
		return fmt.Errorf("memory warning threshold must be at least 1 GiB, got %d", c.Sampling.MemoryWarningGB)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be positive, got %s", c.StopTimeout)
	}
	if c.Viewer.NotifyRetries < 0 {
		return fmt.Errorf("notify retries must not be negative, got %d", c.Viewer.NotifyRetries)
	}
	if c.Viewer.Server != "" {
		u, err := url.Parse(c.Viewer.Server)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("viewer server %q must be an http(s) URL", c.Viewer.Server)
		}
	}
	if c.Storage.Root == "" && c.Storage.URL == "" {
		return fmt.Errorf("either a storage root or a storage URL is required")
	}
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error", "disabled", "off":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// Enabled reports whether sampling is on. A zero sample delay disables the
// profiler just like Disable.
func (c *Config) Enabled() bool {
	return !c.Disable && c.Sampling.SampleDelay > 0
}
