package ingest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Config configures the change event consumer.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Stream is the JetStream stream the storage layer publishes to.
	Stream string `yaml:"stream"`

	// Subject prefixes the change event subjects.
	Subject string `yaml:"subject"`

	// ConsumerName is shared by all nodes so each event is processed once.
	ConsumerName string `yaml:"consumer_name"`

	// Workers is the number of partitions processed in parallel. Events of
	// one collection always land on the same worker.
	Workers int `yaml:"workers"`

	// MaxDeliveries terminates an event delivered this many times without
	// being acknowledged, so a poison event cannot stall its partition.
	MaxDeliveries int `yaml:"max_deliveries"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		Stream:       "LIVEQUERY_CHANGES",
		Subject:      "livequery.changes",
		ConsumerName: "livequery-ingest",
		Workers:       8,
		MaxDeliveries: 5,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Stream == "" {
		c.Stream = d.Stream
	}
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	if c.ConsumerName == "" {
		c.ConsumerName = d.ConsumerName
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.MaxDeliveries == 0 {
		c.MaxDeliveries = d.MaxDeliveries
	}
}

// ApplyEnvOverrides applies LIVEQUERY_INGEST_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEQUERY_INGEST_ENABLED"); val != "" {
		c.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("LIVEQUERY_INGEST_SUBJECT"); val != "" {
		c.Subject = val
	}
	if val := os.Getenv("LIVEQUERY_INGEST_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Workers = n
		}
	}
}

// ResolvePaths is a no-op.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Stream == "" || c.Subject == "" || c.ConsumerName == "" {
		return errors.New("ingest.stream, ingest.subject and ingest.consumer_name are required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be positive, got %d", c.Workers)
	}
	if c.MaxDeliveries <= 0 {
		return fmt.Errorf("ingest.max_deliveries must be positive, got %d", c.MaxDeliveries)
	}
	return nil
}
