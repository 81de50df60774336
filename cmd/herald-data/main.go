// Package main initializes and runs the Herald Data Plane service.
//
// It acts as the composition root for the SDK-facing HTTP API and the gRPC
// Delivery service, wiring up the catalog cache, event recording and the
// server lifecycle.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/dataapi"
	"github.com/heraldhq/herald/internal/database"
	"github.com/heraldhq/herald/internal/delivery"
	"github.com/heraldhq/herald/internal/events"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/ratelimit"
	"github.com/heraldhq/herald/internal/ruleengine"
	"github.com/heraldhq/herald/internal/store"
)

const monitorInterval = 15 * time.Second

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appLog := logger.New(&cfg.App)
	slog.SetDefault(appLog)
	cfg.LogConfig(appLog)
	observability.RecordBuildInfo(&cfg.App, "herald-data")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, appLog)

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()
	go database.RunPoolMonitor(ctx, pool, monitorInterval)

	checkers := []observability.Checker{database.NewHealthChecker(pool)}

	var redisClient *redis.Client
	if cfg.Redis.IsConfigured() {
		redisClient, err = cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		go cache.RunPoolMonitor(ctx, redisClient, monitorInterval)
		checkers = append(checkers, cache.NewHealthChecker(redisClient))
	}

	repo := store.NewPostgresStore(pool)

	// L1 catalog cache, kept fresh by control plane invalidations.
	var catalog store.CatalogReader = repo
	if cfg.Cache.Enabled {
		l1, err := cache.NewCatalogCache(repo, cfg.Cache.L1Capacity, cfg.Cache.L1TTL)
		if err != nil {
			return err
		}
		defer l1.Close()
		go l1.RunMetricsCollector(ctx, monitorInterval)

		if redisClient != nil {
			go func() {
				if err := cache.RunInvalidationListener(ctx, redisClient, cfg.Cache.InvalidationChannel, l1, nil); err != nil {
					appLog.Error("invalidation listener stopped", slog.String("error", err.Error()))
				}
			}()
		} else {
			appLog.Warn("redis not configured, catalog cache relies on its TTL only", slog.Duration("ttl", cfg.Cache.L1TTL))
		}
		catalog = l1
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	var recorderOpts []events.RecorderOption
	if cfg.Events.KafkaEnabled() {
		publisher := events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer publisher.Close()
		recorderOpts = append(recorderOpts, events.WithPublisher(publisher))
	}
	recorder := events.NewRecorder(catalog, repo, repo, repo, recorderOpts...)
	defer recorder.Wait()

	var sink events.Sink = recorder
	if cfg.Events.Mode == config.EventsModeQueue {
		if redisClient == nil {
			return fmt.Errorf("events mode %q requires redis", cfg.Events.Mode)
		}
		sink = events.NewRedisQueue(redisClient, cfg.Events.QueueKey)
	}

	var scripter redis.Scripter
	if redisClient != nil {
		scripter = redisClient
	}
	limiter, err := ratelimit.New(&cfg.RateLimit, scripter)
	if err != nil {
		return err
	}
	if ml, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		go ml.RunJanitor(ctx, cfg.RateLimit.Window)
	}

	svc := delivery.NewService(catalog, repo, repo, ruleengine.New(logger.Component(appLog, "ruleengine")))
	apiLog := logger.Component(appLog, "data-api")
	api := dataapi.NewAPI(&cfg.Server.Data, svc, recorder, sink,
		dataapi.WithLogger(apiLog),
		dataapi.WithLimiter(limiter),
	)

	obs := observability.NewServer(appLog, &cfg.Observability, checkers...)
	if err := obs.Start(); err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// 4. Servers Setup
	// -------------------------------------------------------------------------
	srvCfg := cfg.Server.Data

	// Create the TCP listener first (Fail Fast)
	grpcAddr := net.JoinHostPort(srvCfg.Host, srvCfg.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", grpcAddr, err)
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			dataapi.RequestLoggerInterceptor(apiLog),
			dataapi.ObservabilityInterceptor(),
		),
		grpc.MaxConcurrentStreams(srvCfg.MaxConcurrentStreams),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:             srvCfg.KeepaliveTime,
			Timeout:          srvCfg.KeepaliveTimeout,
			MaxConnectionAge: srvCfg.MaxConnectionAge,
		}),
	)
	api.Register(grpcServer)

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(srvCfg.Host, srvCfg.HTTPPort),
		Handler:           api.Router,
		ReadTimeout:       srvCfg.ReadTimeout,
		WriteTimeout:      srvCfg.WriteTimeout,
		ReadHeaderTimeout: srvCfg.ReadHeaderTimeout,
	}

	errChan := make(chan error, 2)
	go func() {
		appLog.Info("data plane grpc listening", slog.String("addr", grpcAddr))
		if err := grpcServer.Serve(listener); err != nil {
			errChan <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()
	go func() {
		appLog.Info("data plane http listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to serve http: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		appLog.Info("shutdown signal received, stopping data plane")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http server shutdown failed", slog.String("error", err.Error()))
	}

	// GracefulStop does not take a deadline, so it races the shutdown timeout.
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLog.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	appLog.Info("service exited successfully")
	return nil
}
