package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/syntrixbase/livequery/internal/server/ratelimit"
)

// RateLimitConfig configures the per-client HTTP rate limiter.
type RateLimitConfig = ratelimit.Config

// Config is the server section: listener, CORS and the rate limit shared by
// every route.
type Config struct {
	Host string `yaml:"host"`

	HTTPPort         int           `yaml:"http_port"`
	HTTPReadTimeout  time.Duration `yaml:"http_read_timeout"`
	HTTPWriteTimeout time.Duration `yaml:"http_write_timeout"`
	HTTPIdleTimeout  time.Duration `yaml:"http_idle_timeout"`

	// CORS
	EnableCORS       bool     `yaml:"enable_cors"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	CORSMaxAge       int      `yaml:"cors_max_age"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// MetricsPath serves Prometheus metrics. Empty disables the endpoint.
	MetricsPath string `yaml:"metrics_path"`

	// ShutdownTimeout bounds the graceful drain on stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns safe defaults for development.
func DefaultConfig() Config {
	return Config{
		Host:             "localhost",
		HTTPPort:         8080,
		HTTPReadTimeout:  10 * time.Second,
		HTTPWriteTimeout: 10 * time.Second,
		HTTPIdleTimeout:  60 * time.Second,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		CORSMaxAge:       86400,
		RateLimit:        ratelimit.DefaultConfig(),
		MetricsPath:      "/metrics",
		ShutdownTimeout:  10 * time.Second,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig. RateLimit.Enabled is
// left alone so an omitted rate_limit section stays off.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	orDefault(&c.Host, d.Host)
	orDefault(&c.HTTPPort, d.HTTPPort)
	orDefault(&c.HTTPReadTimeout, d.HTTPReadTimeout)
	orDefault(&c.HTTPWriteTimeout, d.HTTPWriteTimeout)
	orDefault(&c.HTTPIdleTimeout, d.HTTPIdleTimeout)
	orDefault(&c.CORSMaxAge, d.CORSMaxAge)
	orDefault(&c.RateLimit.Requests, d.RateLimit.Requests)
	orDefault(&c.RateLimit.Window, d.RateLimit.Window)
	orDefault(&c.ShutdownTimeout, d.ShutdownTimeout)
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = d.AllowedMethods
	}
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = d.AllowedHeaders
	}
}

func orDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// ApplyEnvOverrides applies LIVEQUERY_SERVER_* environment variables.
// Unparseable values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LIVEQUERY_SERVER_HOST"); v != "" {
		c.Host = v
	}
	if port, err := strconv.Atoi(os.Getenv("LIVEQUERY_SERVER_HTTP_PORT")); err == nil {
		c.HTTPPort = port
	}
	if v := os.Getenv("LIVEQUERY_SERVER_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = c.AllowedOrigins[:0]
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
		c.EnableCORS = len(c.AllowedOrigins) > 0
	}
	if v, err := strconv.ParseBool(os.Getenv("LIVEQUERY_SERVER_RATE_LIMIT_ENABLED")); err == nil {
		c.RateLimit.Enabled = v
	}
}

// ResolvePaths is a no-op; the server section holds no paths.
func (c *Config) ResolvePaths(string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.HTTPPort)
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("server.shutdown_timeout must not be negative")
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("server.%w", err)
	}
	return nil
}
