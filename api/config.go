package api

import (
	"errors"
	"fmt"
	"time"
)

// Config holds API server configuration.
type Config struct {
	// Host is the server host (default: localhost).
	Host string `yaml:"host"`

	// Port is the server port (default: 8080).
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// EnableRateLimit enables global request rate limiting.
	EnableRateLimit bool `yaml:"enable_rate_limit"`

	// RateLimitPerSecond is the sustained request rate when limiting.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`

	// RateLimitBurst is the rate-limit burst size.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:               "localhost",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        60 * time.Second,
		RateLimitPerSecond: 50,
		RateLimitBurst:     100,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.EnableRateLimit && c.RateLimitPerSecond <= 0 {
		return errors.New("rate limit per second must be positive when enabled")
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
