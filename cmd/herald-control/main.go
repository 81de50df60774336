// Package main initializes and runs the Herald Control Plane service.
//
// It acts as the composition root for the operator REST API, wiring up
// PostgreSQL, the Redis catalog invalidation channel and the server lifecycle.
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

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/controlapi"
	"github.com/heraldhq/herald/internal/database"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/store"
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
	observability.RecordBuildInfo(&cfg.App, "herald-control")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()
	go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)

	checkers := []observability.Checker{database.NewHealthChecker(pool)}

	// Without Redis the data plane relies on its cache TTL alone.
	var invalidator cache.Invalidator = cache.NoopInvalidator{}
	if cfg.Redis.IsConfigured() {
		redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		go cache.RunPoolMonitor(ctx, redisClient, poolMonitorInterval)

		invalidator = cache.NewRedisInvalidator(redisClient, cfg.Cache.InvalidationChannel)
		checkers = append(checkers, cache.NewHealthChecker(redisClient))
	} else {
		appLog.Warn("redis not configured, catalog invalidations are disabled")
	}

	repo := store.NewPostgresStore(pool)
	if err := bootstrapAccount(ctx, appLog, &cfg.Server.Control, repo); err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	api := controlapi.NewAPI(repo, invalidator,
		controlapi.WithLogger(logger.Component(appLog, "control-api")),
		controlapi.WithPageSizes(cfg.Server.Control.DefaultPageSize, cfg.Server.Control.MaxPageSize),
	)

	obs := observability.NewServer(appLog, &cfg.Observability, checkers...)
	if err := obs.Start(); err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// 4. HTTP Server Setup
	// -------------------------------------------------------------------------
	srvCfg := cfg.Server.Control
	server := &http.Server{
		Addr:              net.JoinHostPort(srvCfg.Host, srvCfg.Port),
		Handler:           api.Router,
		ReadTimeout:       srvCfg.ReadTimeout,
		WriteTimeout:      srvCfg.WriteTimeout,
		ReadHeaderTimeout: srvCfg.ReadHeaderTimeout,
		IdleTimeout:       srvCfg.IdleTimeout,
		MaxHeaderBytes:    srvCfg.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		appLog.Info("control plane listening", slog.String("addr", server.Addr), slog.Bool("tls", srvCfg.TLSEnabled))
		var err error
		if srvCfg.TLSEnabled {
			err = server.ListenAndServeTLS(srvCfg.TLSCert, srvCfg.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		appLog.Info("shutdown signal received, stopping control plane")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http server shutdown failed", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		appLog.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	appLog.Info("service exited successfully")
	return nil
}

// bootstrapAccount provisions the configured first tenant. An existing
// account with the same key is left untouched.
func bootstrapAccount(ctx context.Context, log *slog.Logger, cfg *config.ControlPlaneConfig, repo store.AccountRepository) error {
	if !cfg.HasBootstrap() {
		return nil
	}

	acc := &store.Account{Name: cfg.BootstrapAccountName, APIKeyHash: cfg.BootstrapAPIKeyHash}
	err := repo.CreateAccount(ctx, acc)
	switch {
	case errors.Is(err, store.ErrConflict):
		log.Info("bootstrap account already exists")
		return nil
	case err != nil:
		return fmt.Errorf("failed to create bootstrap account: %w", err)
	}

	log.Info("bootstrap account created", slog.String("account_id", acc.ID), slog.String("name", acc.Name))
	return nil
}
