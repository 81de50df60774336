// Package database provides the PostgreSQL connection factory and pool instrumentation.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/observability"
)

// NewPostgresPool builds a pgx pool from cfg and pings it with exponential
// backoff so services started alongside the database do not crash-loop.
// The caller owns the returned pool.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	maxRetries := max(cfg.PingMaxRetries, 1)
	backoff := cfg.PingBackoff
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, max(cfg.ConnectTimeout, time.Second))
		lastErr = pool.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			log.Info("connected to postgres", slog.Int("attempt", attempt))
			return pool, nil
		}

		log.Warn("postgres ping failed", slog.Int("attempt", attempt), slog.Any("error", lastErr))
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, lastErr)
}

// poolSnapshot is the subset of pgxpool.Stat exported as metrics.
type poolSnapshot struct {
	total, idle, inUse, max int32
	acquireCount            int64
	waitCount               int64
	acquireDuration         time.Duration
}

func snapshotOf(s *pgxpool.Stat) poolSnapshot {
	return poolSnapshot{
		total:           s.TotalConns(),
		idle:            s.IdleConns(),
		inUse:           s.AcquiredConns(),
		max:             s.MaxConns(),
		acquireCount:    s.AcquireCount(),
		waitCount:       s.EmptyAcquireCount(),
		acquireDuration: s.AcquireDuration(),
	}
}

// poolRecorder turns the cumulative pgxpool counters into Prometheus counter increments.
type poolRecorder struct {
	last poolSnapshot
}

func (r *poolRecorder) record(s poolSnapshot) {
	observability.DatabasePoolConnections.WithLabelValues("total").Set(float64(s.total))
	observability.DatabasePoolConnections.WithLabelValues("idle").Set(float64(s.idle))
	observability.DatabasePoolConnections.WithLabelValues("in_use").Set(float64(s.inUse))
	observability.DatabasePoolConnections.WithLabelValues("max").Set(float64(s.max))

	if d := s.acquireCount - r.last.acquireCount; d > 0 {
		observability.DatabasePoolAcquireCount.Add(float64(d))
	}
	if d := s.waitCount - r.last.waitCount; d > 0 {
		observability.DatabasePoolWaitCount.Add(float64(d))
	}
	if d := s.acquireDuration - r.last.acquireDuration; d > 0 {
		observability.DatabasePoolAcquireDuration.Add(d.Seconds())
	}
	r.last = s
}

// RunPoolMonitor samples pool statistics every interval until ctx is cancelled.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var rec poolRecorder
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec.record(snapshotOf(pool.Stat()))
		}
	}
}
