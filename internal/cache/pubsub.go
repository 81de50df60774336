package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/observability"
)

// Invalidator announces that an account's catalog changed.
type Invalidator interface {
	InvalidateAccount(ctx context.Context, accountID string) error
}

// NoopInvalidator is used when no data plane cache needs to be told anything.
type NoopInvalidator struct{}

// InvalidateAccount implements Invalidator.
func (NoopInvalidator) InvalidateAccount(context.Context, string) error { return nil }

// RedisInvalidator publishes account ids on a Redis Pub/Sub channel.
type RedisInvalidator struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisInvalidator creates a publisher on channel.
func NewRedisInvalidator(client redis.UniversalClient, channel string) *RedisInvalidator {
	return &RedisInvalidator{client: client, channel: channel}
}

// InvalidateAccount implements Invalidator.
func (p *RedisInvalidator) InvalidateAccount(ctx context.Context, accountID string) error {
	if err := p.client.Publish(ctx, p.channel, accountID).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for account %q: %w", accountID, err)
	}
	return nil
}

// InvalidationTarget receives invalidations. *CatalogCache implements it.
type InvalidationTarget interface {
	Invalidate(accountID string)
}

// RunInvalidationListener subscribes to channel and invalidates target for
// every received account id until ctx is cancelled. ready, if non-nil, is
// closed once the subscription is confirmed.
func RunInvalidationListener(ctx context.Context, client redis.UniversalClient, channel string, target InvalidationTarget, ready chan<- struct{}) error {
	log := logger.FromContext(ctx).With(slog.String("channel", channel))

	sub := client.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	// Receive blocks until the subscription is acknowledged.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", channel, err)
	}
	if ready != nil {
		close(ready)
	}
	log.Info("listening for catalog invalidations")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("invalidation channel %q closed", channel)
			}
			if msg.Payload == "" {
				continue
			}
			target.Invalidate(msg.Payload)
			observability.CatalogInvalidations.Inc()
			log.Debug("catalog invalidated", slog.String("account_id", msg.Payload))
		}
	}
}
