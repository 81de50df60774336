package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// HealthChecker reports Redis reachability on the readiness probe.
type HealthChecker struct {
	client redis.UniversalClient
}

// NewHealthChecker creates a health checker for client.
func NewHealthChecker(client redis.UniversalClient) *HealthChecker {
	return &HealthChecker{client: client}
}

// Name implements observability.Checker.
func (h *HealthChecker) Name() string {
	return "redis"
}

// Check implements observability.Checker.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return h.client.Ping(ctx).Err()
}
