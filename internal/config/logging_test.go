package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestDefaultLoggingConfig_Valid(t *testing.T) {
	cfg := DefaultLoggingConfig()
	assert.True(t, cfg.Console.Enabled)
	assert.False(t, cfg.File.Enabled)
	assert.False(t, cfg.Async.Enabled)

	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, OutputConfig{Enabled: true, Level: "info", Format: "text"}, cfg.Console)
	assert.Equal(t, OutputConfig{Level: "info", Format: "text"}, cfg.File)
}

func TestLoggingConfigYAMLParsing(t *testing.T) {
	yamlData := `
level: "debug"
format: "json"
dir: "/var/log/livequery"
rotation:
  max_size: 50
  max_backups: 5
  max_age: 14
  compress: false
console:
  enabled: false
file:
  enabled: true
  level: "warn"
async:
  enabled: true
  flush_timeout: 250ms
`

	var cfg LoggingConfig
	err := yaml.Unmarshal([]byte(yamlData), &cfg)

	assert.NoError(t, err)
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "/var/log/livequery", cfg.Dir)
	assert.Equal(t, 50, cfg.Rotation.MaxSize)
	assert.False(t, cfg.Console.Enabled)
	assert.Equal(t, "warn", cfg.File.Level)
	assert.True(t, cfg.Async.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Async.FlushTimeout)
}

func TestLoggingConfigApplyDefaults(t *testing.T) {
	cfg := &LoggingConfig{}
	cfg.ApplyDefaults()

	want := DefaultLoggingConfig()
	want.Rotation.Compress = false
	want.Console = OutputConfig{Enabled: true, Level: "info", Format: "text"}
	want.File = OutputConfig{Level: "info", Format: "text"}
	assert.Equal(t, want, *cfg)
}

func TestLoggingConfigApplyDefaultsWithPartialConfig(t *testing.T) {
	cfg := &LoggingConfig{
		Level:  "debug",
		Format: "json",
		Console: OutputConfig{
			Enabled: true,
			Level:   "warn",
		},
		File: OutputConfig{Enabled: true},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "warn", cfg.Console.Level)
	assert.Equal(t, "json", cfg.Console.Format)
	assert.Equal(t, "debug", cfg.File.Level)
	assert.Equal(t, "json", cfg.File.Format)
}

func TestLoggingConfigApplyDefaults_FileOnly(t *testing.T) {
	cfg := &LoggingConfig{File: OutputConfig{Enabled: true}}
	cfg.ApplyDefaults()
	assert.False(t, cfg.Console.Enabled)
}

func TestLoggingConfigResolvePaths(t *testing.T) {
	configDir := filepath.Join("/app", "config")
	tests := []struct {
		name     string
		dir      string
		expected string
	}{
		{"relative path next to config dir", "logs", filepath.Join("/app", "logs")},
		{"relative with subdirs", "logs/app", filepath.Join("/app", "logs", "app")},
		{"parent path from config dir", "../var/logs", filepath.Join("/app", "var", "logs")},
		{"absolute path unchanged", "/var/log/livequery", "/var/log/livequery"},
		{"empty dir unchanged", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &LoggingConfig{Dir: tt.dir}
			cfg.ResolvePaths(configDir)
			assert.Equal(t, tt.expected, cfg.Dir)
		})
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	valid := func() LoggingConfig {
		cfg := DefaultLoggingConfig()
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*LoggingConfig)
		errMsg string
	}{
		{"valid config", func(*LoggingConfig) {}, ""},
		{"invalid level", func(c *LoggingConfig) { c.Level = "invalid" }, "invalid log level"},
		{"invalid format", func(c *LoggingConfig) { c.Format = "xml" }, "invalid log format"},
		{"invalid console level", func(c *LoggingConfig) { c.Console.Level = "loud" }, "invalid console log level"},
		{"invalid console format", func(c *LoggingConfig) { c.Console.Format = "xml" }, "invalid console log format"},
		{"disabled console is not checked", func(c *LoggingConfig) { c.Console = OutputConfig{Level: "loud"} }, ""},
		{"file without dir", func(c *LoggingConfig) { c.File.Enabled = true; c.Dir = "" }, "log directory cannot be empty"},
		{"invalid file level", func(c *LoggingConfig) { c.File.Enabled = true; c.File.Level = "loud" }, "invalid file log level"},
		{"invalid file format", func(c *LoggingConfig) { c.File.Enabled = true; c.File.Format = "xml" }, "invalid file log format"},
		{"async buffer", func(c *LoggingConfig) { c.Async.Enabled = true; c.Async.BufferSize = -1 }, "async buffer size must be positive"},
		{"async batch", func(c *LoggingConfig) { c.Async.Enabled = true; c.Async.BatchSize = 0 }, "async batch size must be positive"},
		{"async flush", func(c *LoggingConfig) { c.Async.Enabled = true; c.Async.FlushTimeout = 0 }, "async flush timeout must be positive"},
		{"async disabled is not checked", func(c *LoggingConfig) { c.Async = AsyncConfig{} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.errMsg)
			}
		})
	}
}

func TestLoggingConfigApplyEnvOverrides(t *testing.T) {
	t.Setenv("LIVEQUERY_LOG_LEVEL", "DEBUG")
	t.Setenv("LIVEQUERY_LOG_FORMAT", "json")
	t.Setenv("LIVEQUERY_LOG_DIR", "/tmp/lq")

	cfg := DefaultLoggingConfig()
	cfg.ApplyDefaults()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "debug", cfg.Console.Level)
	assert.Equal(t, "debug", cfg.File.Level)
	assert.Equal(t, "json", cfg.Console.Format)
	assert.Equal(t, "text", cfg.File.Format)
	assert.Equal(t, "/tmp/lq", cfg.Dir)
}
