package realtime

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config controls the websocket endpoint.
type Config struct {
	// Path the websocket handler is mounted on.
	Path string `yaml:"path"`

	// SendBufferSize is the per-connection outbound queue length.
	SendBufferSize int `yaml:"send_buffer_size"`

	// SendTimeout is how long a notification waits for room in a full
	// queue before it is dropped for that connection.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// MaxMessageSize bounds inbound frames.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// MessageRate and MessageBurst bound inbound requests per connection.
	MessageRate  float64 `yaml:"message_rate"`
	MessageBurst int     `yaml:"message_burst"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowDevOrigin bool     `yaml:"allow_dev_origin"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Path:           "/ws",
		SendBufferSize: 256,
		SendTimeout:    50 * time.Millisecond,
		MaxMessageSize: 64 * 1024,
		MessageRate:    50,
		MessageBurst:   100,
		AllowDevOrigin: true,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.MessageRate == 0 {
		c.MessageRate = d.MessageRate
	}
	if c.MessageBurst == 0 {
		c.MessageBurst = d.MessageBurst
	}
}

// ApplyEnvOverrides applies LIVEQUERY_REALTIME_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("LIVEQUERY_REALTIME_ALLOWED_ORIGINS"); val != "" {
		c.AllowedOrigins = strings.Split(val, ",")
	}
	if val := os.Getenv("LIVEQUERY_REALTIME_ALLOW_DEV_ORIGIN"); val != "" {
		c.AllowDevOrigin = val == "true" || val == "1"
	}
}

// ResolvePaths is a no-op.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("realtime.path must start with '/', got %q", c.Path)
	}
	if c.SendBufferSize <= 0 {
		return errors.New("realtime.send_buffer_size must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("realtime.max_message_size must be positive")
	}
	if c.MessageRate < 0 || c.MessageBurst < 0 {
		return errors.New("realtime.message_rate and realtime.message_burst must not be negative")
	}
	return nil
}
