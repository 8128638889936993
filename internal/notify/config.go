package notify

import (
	"fmt"
	"os"
	"strconv"
)

// Config configures notification processing.
type Config struct {
	// Concurrency bounds the documents of one batch matched and dispatched
	// at the same time.
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 16,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConfig().Concurrency
	}
}

// ApplyEnvOverrides applies LIVEQUERY_NOTIFY_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEQUERY_NOTIFY_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Concurrency = n
		}
	}
}

// ResolvePaths is a no-op.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("notify.concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}
