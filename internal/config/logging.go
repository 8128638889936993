package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// LoggingConfig is the logging section. Console and file outputs inherit
// Level and Format unless they set their own.
type LoggingConfig struct {
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"`
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  OutputConfig   `yaml:"console"`
	File     OutputConfig   `yaml:"file"`
	Async    AsyncConfig    `yaml:"async"`
}

// RotationConfig is passed through to lumberjack. Sizes are in megabytes,
// ages in days.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age"`
	Compress   bool `yaml:"compress"`
}

// OutputConfig is one log destination.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

func (o *OutputConfig) inherit(level, format string) {
	if o.Level == "" {
		o.Level = level
	}
	if o.Format == "" {
		o.Format = format
	}
}

func (o OutputConfig) check(name string) error {
	if !o.Enabled {
		return nil
	}
	if o.Level != "" && !slices.Contains(logLevels, o.Level) {
		return fmt.Errorf("invalid %s log level: %s", name, o.Level)
	}
	if o.Format != "" && !slices.Contains(logFormats, o.Format) {
		return fmt.Errorf("invalid %s log format: %s", name, o.Format)
	}
	return nil
}

// AsyncConfig moves file writes to a background goroutine that flushes in
// batches.
type AsyncConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BufferSize   int           `yaml:"buffer_size"`
	BatchSize    int           `yaml:"batch_size"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:    "info",
		Format:   "text",
		Dir:      "logs",
		Rotation: RotationConfig{MaxSize: 100, MaxBackups: 10, MaxAge: 30, Compress: true},
		Console:  OutputConfig{Enabled: true},
		Async:    AsyncConfig{BufferSize: 10000, BatchSize: 100, FlushTimeout: 100 * time.Millisecond},
	}
}

// ApplyDefaults fills zero values. A section naming neither output gets the
// console.
func (c *LoggingConfig) ApplyDefaults() {
	d := DefaultLoggingConfig()
	setDefault(&c.Level, d.Level)
	setDefault(&c.Format, d.Format)
	setDefault(&c.Dir, d.Dir)
	setDefault(&c.Rotation.MaxSize, d.Rotation.MaxSize)
	setDefault(&c.Rotation.MaxBackups, d.Rotation.MaxBackups)
	setDefault(&c.Rotation.MaxAge, d.Rotation.MaxAge)
	setDefault(&c.Async.BufferSize, d.Async.BufferSize)
	setDefault(&c.Async.BatchSize, d.Async.BatchSize)
	setDefault(&c.Async.FlushTimeout, d.Async.FlushTimeout)

	if c.Console == (OutputConfig{}) && !c.File.Enabled {
		c.Console.Enabled = true
	}
	c.Console.inherit(c.Level, c.Format)
	c.File.inherit(c.Level, c.Format)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// ApplyEnvOverrides applies LIVEQUERY_LOG_LEVEL, LIVEQUERY_LOG_FORMAT and
// LIVEQUERY_LOG_DIR. Level reaches both outputs; format only the console,
// so files keep a machine-readable format.
func (c *LoggingConfig) ApplyEnvOverrides() {
	if v := strings.ToLower(os.Getenv("LIVEQUERY_LOG_LEVEL")); v != "" {
		c.Level, c.Console.Level, c.File.Level = v, v, v
	}
	if v := strings.ToLower(os.Getenv("LIVEQUERY_LOG_FORMAT")); v != "" {
		c.Format, c.Console.Format = v, v
	}
	if v := os.Getenv("LIVEQUERY_LOG_DIR"); v != "" {
		c.Dir = v
	}
}

// ResolvePaths anchors a relative Dir. "../x" is taken from configDir,
// anything else from its parent, so "logs" lands beside the config
// directory.
func (c *LoggingConfig) ResolvePaths(configDir string) {
	if c.Dir == "" || filepath.IsAbs(c.Dir) {
		return
	}
	base := filepath.Dir(configDir)
	if strings.HasPrefix(c.Dir, "..") {
		base = configDir
	}
	c.Dir = filepath.Join(base, c.Dir)
}

func (c *LoggingConfig) Validate() error {
	if !slices.Contains(logLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of %s)", c.Level, strings.Join(logLevels, ", "))
	}
	if !slices.Contains(logFormats, c.Format) {
		return fmt.Errorf("invalid log format: %s (must be one of %s)", c.Format, strings.Join(logFormats, ", "))
	}
	if err := c.Console.check("console"); err != nil {
		return err
	}
	if err := c.File.check("file"); err != nil {
		return err
	}
	if c.File.Enabled && c.Dir == "" {
		return errors.New("log directory cannot be empty when file logging is enabled")
	}

	if !c.Async.Enabled {
		return nil
	}
	switch {
	case c.Async.BufferSize <= 0:
		return errors.New("async buffer size must be positive")
	case c.Async.BatchSize <= 0:
		return errors.New("async batch size must be positive")
	case c.Async.FlushTimeout <= 0:
		return errors.New("async flush timeout must be positive")
	}
	return nil
}
