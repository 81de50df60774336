// Package ratelimit implements fixed-window request limiting keyed by an
// arbitrary string (the client IP on the data plane).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heraldhq/herald/internal/config"
)

// Result is the outcome of a single Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Unlimited allows everything. It stands in when rate limiting is disabled.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (Result, error) {
	return Result{Allowed: true}, nil
}

// New builds the limiter selected by cfg. The Redis backend requires client.
func New(cfg *config.RateLimitConfig, client redis.Scripter) (Limiter, error) {
	if !cfg.Enabled {
		return Unlimited{}, nil
	}

	switch cfg.Backend {
	case config.RateLimitBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis rate limiter requires a redis client")
		}
		return NewRedisLimiter(client, cfg.KeyPrefix, cfg.Limit, cfg.Window), nil
	case config.RateLimitBackendMemory:
		return NewMemoryLimiter(cfg.Limit, cfg.Window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
	}
}

func remaining(limit int, count int64) int {
	return max(limit-int(count), 0)
}
