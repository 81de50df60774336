package config

import (
	"fmt"
	"time"
)

// Rate limiter backends.
const (
	RateLimitBackendRedis  = "redis"
	RateLimitBackendMemory = "memory"
)

// RateLimitConfig bounds how many event reports a single client IP may send per window.
type RateLimitConfig struct {
	Enabled   bool          `envconfig:"ENABLED" default:"true"`
	Backend   string        `envconfig:"BACKEND" default:"redis" validate:"oneof=redis memory"`
	Limit     int           `envconfig:"LIMIT" default:"100" validate:"min=1"`
	Window    time.Duration `envconfig:"WINDOW" default:"60s"`
	KeyPrefix string        `envconfig:"KEY_PREFIX" default:"herald:ratelimit:"`
}

// Validate checks RateLimitConfig fields for correctness.
func (c *RateLimitConfig) Validate() error {
	if c.Window < time.Second {
		return fmt.Errorf("rate limit window must be at least 1s, got %s", c.Window)
	}
	if c.Backend == RateLimitBackendRedis {
		return validateNoWhitespace(c.KeyPrefix, "rate limit key prefix")
	}
	return nil
}
