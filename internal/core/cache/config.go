package cache

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
	BackendMongo  = "mongo"
)

// Config selects and configures the notification cache store.
type Config struct {
	// Backend is one of "memory", "nats" or "mongo".
	Backend string `yaml:"backend"`

	// TTL bounds how long an entry survives without being rewritten.
	// 0 disables expiry.
	TTL time.Duration `yaml:"ttl"`

	Memory MemoryConfig `yaml:"memory"`
	NATS   NATSConfig   `yaml:"nats"`
	Mongo  MongoConfig  `yaml:"mongo"`
}

// MemoryConfig configures the in-process store.
type MemoryConfig struct {
	// JanitorInterval is how often expired entries are evicted.
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// NATSConfig configures the JetStream key-value store. The connection is
// the one configured under pubsub.
type NATSConfig struct {
	Bucket   string `yaml:"bucket"`
	Replicas int    `yaml:"replicas"`
	// Storage is "memory" or "file".
	Storage string `yaml:"storage"`
}

// MongoConfig configures the MongoDB store.
type MongoConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the defaults: a memory store keeping entries for
// three days.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		TTL:     72 * time.Hour,
		Memory: MemoryConfig{
			JanitorInterval: time.Minute,
		},
		NATS: NATSConfig{
			Bucket:   "livequery-notif",
			Replicas: 1,
			Storage:  "memory",
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "livequery",
			Collection: "notifications",
			Timeout:    5 * time.Second,
		},
	}
}

// ApplyDefaults fills in zero values with defaults. TTL is left alone since
// 0 is meaningful.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Memory.JanitorInterval == 0 {
		c.Memory.JanitorInterval = d.Memory.JanitorInterval
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = d.NATS.Bucket
	}
	if c.NATS.Replicas == 0 {
		c.NATS.Replicas = d.NATS.Replicas
	}
	if c.NATS.Storage == "" {
		c.NATS.Storage = d.NATS.Storage
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = d.Mongo.URI
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = d.Mongo.Database
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = d.Mongo.Collection
	}
	if c.Mongo.Timeout == 0 {
		c.Mongo.Timeout = d.Mongo.Timeout
	}
}

// ApplyEnvOverrides applies LIVEQUERY_CACHE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEQUERY_CACHE_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := os.Getenv("LIVEQUERY_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.TTL = d
		}
	}
	if val := os.Getenv("LIVEQUERY_CACHE_NATS_BUCKET"); val != "" {
		c.NATS.Bucket = val
	}
	if val := os.Getenv("LIVEQUERY_CACHE_NATS_REPLICAS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.NATS.Replicas = n
		}
	}
	if val := os.Getenv("LIVEQUERY_CACHE_MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("LIVEQUERY_CACHE_MONGO_DATABASE"); val != "" {
		c.Mongo.Database = val
	}
}

// ResolvePaths is a no-op; the cache has no paths.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %s", c.TTL)
	}
	switch c.Backend {
	case BackendMemory:
		if c.Memory.JanitorInterval <= 0 {
			return fmt.Errorf("cache.memory.janitor_interval must be positive")
		}
	case BackendNATS:
		if c.NATS.Bucket == "" {
			return fmt.Errorf("cache.nats.bucket is required")
		}
		if c.NATS.Replicas < 1 {
			return fmt.Errorf("cache.nats.replicas must be at least 1")
		}
		if c.NATS.Storage != "memory" && c.NATS.Storage != "file" {
			return fmt.Errorf("cache.nats.storage must be 'memory' or 'file', got %q", c.NATS.Storage)
		}
	case BackendMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" || c.Mongo.Collection == "" {
			return fmt.Errorf("cache.mongo requires uri, database and collection")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Backend)
	}
	return nil
}
