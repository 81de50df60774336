// Package worker drains the Redis event queue filled by the data plane in
// queue mode and records each event through the events.Recorder.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/events"
	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/validation"
)

// Recorder writes a decoded event. *events.Recorder implements it.
type Recorder interface {
	Record(ctx context.Context, ev events.Event) error
}

// Service pops events with BRPOP and records them with bounded retries.
type Service struct {
	logger   *slog.Logger
	config   config.WorkerConfig
	client   redis.UniversalClient
	queueKey string
	recorder Recorder
	now      func() time.Time
}

// New creates a new worker Service.
func New(logger *slog.Logger, cfg config.WorkerConfig, client redis.UniversalClient, queueKey string, recorder Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertPresent(client, "redis client")
	validation.AssertPresent(recorder, "event recorder")

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}

	return &Service{
		logger:   logger.With(slog.String("queue", queueKey)),
		config:   cfg,
		client:   client,
		queueKey: queueKey,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run starts Concurrency consumers. It blocks until the context is cancelled
// and every consumer has finished its current event.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting event worker",
		slog.Int("concurrency", s.config.Concurrency),
		slog.Duration("pop_timeout", s.config.PopTimeout))

	var wg sync.WaitGroup
	for i := range s.config.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consume(ctx, i)
		}()
	}
	wg.Wait()

	s.logger.Info("event worker stopped")
	return nil
}

func (s *Service) consume(ctx context.Context, id int) {
	log := s.logger.With(slog.Int("consumer", id))

	for ctx.Err() == nil {
		res, err := s.client.BRPop(ctx, s.config.PopTimeout, s.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error("failed to pop event", slog.String("error", err.Error()))
			if !sleep(ctx, s.config.BaseRetryDelay) {
				return
			}
			continue
		}

		// BRPOP answers [key, value].
		if len(res) != 2 {
			continue
		}
		// Events already popped are finished even during shutdown.
		s.process(context.WithoutCancel(ctx), []byte(res[1]))
	}
}

// process decodes and records one queued message.
func (s *Service) process(ctx context.Context, raw []byte) {
	ev, err := events.DecodeMessage(raw)
	if err != nil {
		observability.WorkerJobsTotal.WithLabelValues("invalid").Inc()
		s.logger.Warn("dropping invalid event", slog.String("error", err.Error()), slog.String("payload", string(raw)))
		return
	}

	if err := s.recordWithRetry(ctx, ev); err != nil {
		observability.WorkerJobsTotal.WithLabelValues("fail").Inc()
		s.logger.Error("failed to record event after retries",
			slog.String("notification_id", ev.NotificationID),
			slog.String("event", string(ev.Kind)),
			slog.String("error", err.Error()))
		return
	}

	observability.WorkerJobsTotal.WithLabelValues("success").Inc()
	if !ev.OccurredAt.IsZero() {
		observability.WorkerJobDuration.Observe(s.now().Sub(ev.OccurredAt).Seconds())
	}
}

// recordWithRetry retries with exponential backoff from BaseRetryDelay.
// Views and dismissals are safe to retry; a retried click may be counted twice.
func (s *Service) recordWithRetry(ctx context.Context, ev events.Event) error {
	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, s.config.BaseRetryDelay*time.Duration(1<<(attempt-1))) {
				return ctx.Err()
			}
		}

		err = s.recorder.Record(ctx, ev)
		if err == nil || errors.Is(err, events.ErrUnknownKind) {
			return err
		}
		s.logger.Warn("failed to record event, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	return err
}

// RunQueueMonitor publishes the queue length on the RedisQueueDepth gauge
// until ctx is cancelled.
func (s *Service) RunQueueMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.sampleQueueDepth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) sampleQueueDepth(ctx context.Context) {
	n, err := s.client.LLen(ctx, s.queueKey).Result()
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("failed to read queue depth", slog.String("error", err.Error()))
		}
		return
	}
	observability.RedisQueueDepth.Set(float64(n))
}

// sleep waits for d or until ctx is done. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
