// Package config loads the process configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/livequery/internal/cluster"
	"github.com/syntrixbase/livequery/internal/core/cache"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
	"github.com/syntrixbase/livequery/internal/ingest"
	"github.com/syntrixbase/livequery/internal/notify"
	"github.com/syntrixbase/livequery/internal/realtime"
	"github.com/syntrixbase/livequery/internal/server"
)

// Config holds the application configuration
type Config struct {
	Server   server.Config   `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
	Realtime realtime.Config `yaml:"realtime"`

	PubSub  pubsub.Config  `yaml:"pubsub"`
	Cache   cache.Config   `yaml:"cache"`
	Notify  notify.Config  `yaml:"notify"`
	Cluster cluster.Config `yaml:"cluster"`
	Ingest  ingest.Config  `yaml:"ingest"`
}

// Default returns the built-in configuration before the lifecycle runs.
func Default() *Config {
	return &Config{
		Server:   server.DefaultConfig(),
		Logging:  DefaultLoggingConfig(),
		Realtime: realtime.DefaultConfig(),
		PubSub:   pubsub.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Notify:   notify.DefaultConfig(),
		Cluster:  cluster.DefaultConfig(),
		Ingest:   ingest.DefaultConfig(),
	}
}

// LoadConfig loads configuration from configDir and the environment.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate. Missing files are skipped.
func LoadConfig(configDir string) (*Config, error) {
	// Defaults first so YAML can override them, including bool fields.
	cfg := Default()

	if err := loadFile(filepath.Join(configDir, "config.yml"), cfg); err != nil {
		return nil, err
	}
	if err := loadFile(filepath.Join(configDir, "config.local.yml"), cfg); err != nil {
		return nil, err
	}

	if err := ApplyServiceConfigs(configDir,
		&cfg.Server,
		&cfg.Logging,
		&cfg.Realtime,
		&cfg.PubSub,
		&cfg.Cache,
		&cfg.Notify,
		&cfg.Cluster,
		&cfg.Ingest,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// Validate checks constraints spanning several sections.
func (c *Config) Validate() error {
	if c.PubSub.Backend == pubsub.BackendNATS {
		return nil
	}
	if c.Cache.Backend == cache.BackendNATS {
		return errors.New("cache.backend nats requires pubsub.backend nats")
	}
	if c.Cluster.Enabled {
		return errors.New("cluster.enabled requires pubsub.backend nats")
	}
	return nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}
