// Package ratelimit throttles HTTP clients, keyed by address.
package ratelimit

import (
	"errors"
	"time"
)

// Limiter admits or rejects work per key.
type Limiter interface {
	// Allow consumes one token for key and reports whether one was left.
	Allow(key string) bool

	// Reset refills key's bucket.
	Reset(key string)
}

// Config is the rate_limit section of the server configuration.
type Config struct {
	// Enabled turns limiting on. A disabled limiter allows everything.
	Enabled bool `yaml:"enabled"`

	// Requests is the maximum number of requests allowed per window. It is
	// also the burst size.
	Requests int `yaml:"requests"`

	// Window is how long an empty bucket takes to refill.
	Window time.Duration `yaml:"window"`

	// TrustProxy keys clients by X-Forwarded-For or X-Real-IP. Enable it
	// only behind a proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy"`
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Requests: 100,
		Window:   time.Minute,
	}
}

// Validate returns an error if an enabled configuration cannot build a limiter.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Requests <= 0 {
		return errors.New("rate_limit.requests must be positive")
	}
	if c.Window <= 0 {
		return errors.New("rate_limit.window must be positive")
	}
	return nil
}
