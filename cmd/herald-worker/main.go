// Package main initializes and runs the Herald event worker, which drains the
// Redis event queue filled by the data plane in queue mode.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/database"
	"github.com/heraldhq/herald/internal/events"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/worker"
)

const poolMonitorInterval = 15 * time.Second

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appLog := logger.New(&cfg.App)
	slog.SetDefault(appLog)
	cfg.LogConfig(appLog)
	observability.RecordBuildInfo(&cfg.App, "herald-worker")

	if !cfg.Worker.Enabled {
		appLog.Info("worker disabled by configuration, exiting")
		return nil
	}
	if !cfg.Redis.IsConfigured() {
		return fmt.Errorf("the event worker requires redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Infrastructure Setup
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()
	go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	go cache.RunPoolMonitor(ctx, redisClient, poolMonitorInterval)

	obs := observability.NewServer(appLog, &cfg.Observability,
		database.NewHealthChecker(pool),
		cache.NewHealthChecker(redisClient),
	)
	if err := obs.Start(); err != nil {
		return err
	}

	// 3. Wiring
	repo := store.NewPostgresStore(pool)

	var recorderOpts []events.RecorderOption
	if cfg.Events.KafkaEnabled() {
		publisher := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer publisher.Close()
		recorderOpts = append(recorderOpts, events.WithPublisher(publisher))
	}
	recorder := events.NewRecorder(repo, repo, repo, repo, recorderOpts...)
	defer recorder.Wait()

	svc := worker.New(logger.Component(appLog, "worker"), cfg.Worker, redisClient, cfg.Events.QueueKey, recorder)
	go svc.RunQueueMonitor(ctx, cfg.Worker.QueueMonitorInterval)

	// 4. Run until signalled; Run drains in-flight events before returning.
	if err := svc.Run(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLog.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	appLog.Info("service exited successfully")
	return nil
}
