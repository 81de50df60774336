package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heraldhq/herald/internal/observability"
)

// poolRecorder converts go-redis cumulative pool counters into counter increments.
type poolRecorder struct {
	last redis.PoolStats
}

func (r *poolRecorder) record(s *redis.PoolStats) {
	observability.RedisPoolConnections.WithLabelValues("total").Set(float64(s.TotalConns))
	observability.RedisPoolConnections.WithLabelValues("idle").Set(float64(s.IdleConns))
	observability.RedisPoolConnections.WithLabelValues("stale").Set(float64(s.StaleConns))

	if s.Hits > r.last.Hits {
		observability.RedisPoolHits.Add(float64(s.Hits - r.last.Hits))
	}
	if s.Misses > r.last.Misses {
		observability.RedisPoolMisses.Add(float64(s.Misses - r.last.Misses))
	}
	if s.Timeouts > r.last.Timeouts {
		observability.RedisPoolTimeouts.Add(float64(s.Timeouts - r.last.Timeouts))
	}
	r.last = *s
}

// RunPoolMonitor samples the client's pool every interval until ctx is cancelled.
func RunPoolMonitor(ctx context.Context, client *redis.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var rec poolRecorder
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec.record(client.PoolStats())
		}
	}
}
