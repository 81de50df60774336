package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Sink that pushes events onto a Redis list for the worker.
// Producers LPUSH and the worker BRPOPs, so the list is FIFO.
type RedisQueue struct {
	client redis.Cmdable
	key    string
}

var _ Sink = (*RedisQueue)(nil)

func NewRedisQueue(client redis.Cmdable, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

// Key returns the list the queue writes to.
func (q *RedisQueue) Key() string {
	return q.key
}

func (q *RedisQueue) Submit(ctx context.Context, ev Event) error {
	payload, err := EncodeMessage(ev)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue event: %w", err)
	}
	return nil
}

// EncodeMessage serializes an event into the queue wire format.
func EncodeMessage(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return payload, nil
}

// DecodeMessage parses a queue message and validates its kind.
func DecodeMessage(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if _, err := ParseKind(string(ev.Kind)); err != nil {
		return Event{}, err
	}
	if ev.AccountID == "" || ev.NotificationID == "" || ev.ExternalUserID == "" {
		return Event{}, fmt.Errorf("event is missing account, notification or user id")
	}
	return ev, nil
}
