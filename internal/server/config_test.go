package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/livequery/internal/server/ratelimit"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	want := DefaultConfig()
	want.RateLimit.Enabled = false
	want.MetricsPath = ""
	assert.Equal(t, want, cfg)
}

func TestConfig_ApplyDefaults_KeepsValues(t *testing.T) {
	cfg := Config{
		Host:            "0.0.0.0",
		HTTPPort:        8081,
		HTTPIdleTimeout: 2 * time.Minute,
		EnableCORS:      true,
		AllowedOrigins:  []string{"https://app.example"},
		AllowedMethods:  []string{"GET"},
		CORSMaxAge:      60,
		RateLimit:       ratelimit.Config{Enabled: true, Requests: 5, Window: time.Second},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8081, cfg.HTTPPort)
	assert.Equal(t, 2*time.Minute, cfg.HTTPIdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.HTTPReadTimeout)
	assert.Equal(t, []string{"GET"}, cfg.AllowedMethods)
	assert.Equal(t, 60, cfg.CORSMaxAge)
	assert.Equal(t, ratelimit.Config{Enabled: true, Requests: 5, Window: time.Second}, cfg.RateLimit)
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("LIVEQUERY_SERVER_HOST", "0.0.0.0")
	t.Setenv("LIVEQUERY_SERVER_HTTP_PORT", "9999")
	t.Setenv("LIVEQUERY_SERVER_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("LIVEQUERY_SERVER_RATE_LIMIT_ENABLED", "false")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9999, cfg.HTTPPort)
	assert.True(t, cfg.EnableCORS)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestConfig_ApplyEnvOverrides_IgnoresGarbage(t *testing.T) {
	t.Setenv("LIVEQUERY_SERVER_HTTP_PORT", "eighty")
	t.Setenv("LIVEQUERY_SERVER_RATE_LIMIT_ENABLED", "sometimes")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestConfig_Validate(t *testing.T) {
	defaults := DefaultConfig()
	require.NoError(t, defaults.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"port too large", func(c *Config) { c.HTTPPort = 70000 }, "server.http_port"},
		{"port zero", func(c *Config) { c.HTTPPort = 0 }, "server.http_port"},
		{"negative shutdown", func(c *Config) { c.ShutdownTimeout = -time.Second }, "server.shutdown_timeout"},
		{"no requests", func(c *Config) { c.RateLimit.Requests = 0 }, "server.rate_limit.requests"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}
