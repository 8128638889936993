package cluster

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config configures notification replication between nodes.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// NodeID identifies this node in envelopes. A random id is generated
	// when empty.
	NodeID string `yaml:"node_id"`

	// Stream is the JetStream stream carrying envelopes.
	Stream string `yaml:"stream"`

	// Subject prefixes the envelope subjects.
	Subject string `yaml:"subject"`

	// InactiveThreshold removes the consumer of a node that went away.
	InactiveThreshold time.Duration `yaml:"inactive_threshold"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		Stream:            "LIVEQUERY_CLUSTER",
		Subject:           "livequery.cluster",
		InactiveThreshold: 5 * time.Minute,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.Stream == "" {
		c.Stream = d.Stream
	}
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	if c.InactiveThreshold == 0 {
		c.InactiveThreshold = d.InactiveThreshold
	}
}

// ApplyEnvOverrides applies LIVEQUERY_CLUSTER_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEQUERY_CLUSTER_ENABLED"); val != "" {
		c.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("LIVEQUERY_CLUSTER_NODE_ID"); val != "" {
		c.NodeID = val
	}
}

// ResolvePaths is a no-op.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.NodeID == "" {
		return errors.New("cluster.node_id is required")
	}
	if strings.ContainsAny(c.NodeID, ". *>") {
		return fmt.Errorf("cluster.node_id %q must not contain '.', '*', '>' or spaces", c.NodeID)
	}
	if c.Stream == "" || c.Subject == "" {
		return errors.New("cluster.stream and cluster.subject are required")
	}
	return nil
}
