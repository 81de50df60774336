package config

import (
	"fmt"
	"time"
)

// CacheConfig tunes the in-process (L1) catalog cache of the data plane.
type CacheConfig struct {
	Enabled    bool          `envconfig:"ENABLED" default:"true"`
	L1Capacity int           `envconfig:"L1_CAPACITY" default:"10000" validate:"min=1"`
	L1TTL      time.Duration `envconfig:"L1_TTL" default:"30s"`

	// InvalidationChannel is the Redis Pub/Sub channel the control plane
	// announces catalog changes on.
	InvalidationChannel string `envconfig:"INVALIDATION_CHANNEL" default:"herald:catalog:invalidate"`
}

// Validate checks CacheConfig fields for correctness.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.L1TTL <= 0 {
		return fmt.Errorf("cache L1 TTL must be positive when the cache is enabled, got %s", c.L1TTL)
	}
	return validateNoWhitespace(c.InvalidationChannel, "cache invalidation channel")
}
