package pubsub

import (
	"fmt"
	"os"
)

// Broker backends.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// Config selects and configures the message broker.
type Config struct {
	// Backend is "memory" (single process) or "nats".
	Backend string     `yaml:"backend"`
	NATS    NATSConfig `yaml:"nats"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		NATS: NATSConfig{
			URL:  "nats://localhost:4222",
			Name: "livequery",
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.NATS.URL == "" {
		c.NATS.URL = d.NATS.URL
	}
	if c.NATS.Name == "" {
		c.NATS.Name = d.NATS.Name
	}
}

// ApplyEnvOverrides applies LIVEQUERY_PUBSUB_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEQUERY_PUBSUB_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := os.Getenv("LIVEQUERY_PUBSUB_NATS_URL"); val != "" {
		c.NATS.URL = val
	}
}

// ResolvePaths is a no-op.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("pubsub.nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("pubsub.backend must be %q or %q, got %q", BackendMemory, BackendNATS, c.Backend)
	}
	return nil
}
