package testsupport

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/config"
)

const redisImage = "redis:7-alpine"

// RedisContainer is a running Redis reachable through Client.
type RedisContainer struct {
	Container testcontainers.Container
	Client    *goredis.Client
	Endpoint  string
}

// Terminate closes the client and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Client.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer starts Redis and connects to it through
// cache.NewRedisClient, so the production dial and ping path is exercised.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	rc, err := redis.Run(ctx, redisImage)
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := rc.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		_ = rc.Terminate(ctx)
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		_ = rc.Terminate(ctx)
		return nil, fmt.Errorf("unexpected redis endpoint %q: %w", endpoint, err)
	}

	client, err := cache.NewRedisClient(ctx, &config.RedisConfig{
		Host:           host,
		Port:           port,
		PoolSize:       10,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PingMaxRetries: 5,
		PingBackoff:    500 * time.Millisecond,
	})
	if err != nil {
		_ = rc.Terminate(ctx)
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisContainer{Container: rc, Client: client, Endpoint: endpoint}, nil
}

// Redis starts a container for t and removes it when t finishes.
func Redis(t *testing.T) *RedisContainer {
	t.Helper()

	c, err := StartRedisContainer(context.Background())
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})
	return c
}
