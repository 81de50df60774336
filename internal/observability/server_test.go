package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/observability"
)

func testConfig() *config.ObservabilityConfig {
	return &config.ObservabilityConfig{
		Port:          "0",
		Timeout:       200 * time.Millisecond,
		LivenessPath:  "/alive",
		ReadinessPath: "/check-deps",
		MetricsPath:   "/telemetry",
	}
}

func up(name string) observability.Checker {
	return observability.CheckerFunc{ComponentName: name, Fn: func(context.Context) error { return nil }}
}

func down(name string, err error) observability.Checker {
	return observability.CheckerFunc{ComponentName: name, Fn: func(context.Context) error { return err }}
}

func TestServer_Probes(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		checkers   []observability.Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "Should report ready when every dependency is up",
			checkers:   []observability.Checker{up("postgres"), up("redis")},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"postgres": "up", "redis": "up"},
		},
		{
			name:       "Should report not ready when one dependency is down",
			checkers:   []observability.Checker{up("postgres"), down("redis", errors.New("connection refused"))},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantChecks: map[string]string{"postgres": "up", "redis": "down: connection refused"},
		},
		{
			name:       "Should report ready with no dependencies",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			srv := observability.NewServer(log, testConfig(), tt.checkers...)
			rec := httptest.NewRecorder()

			// Act
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check-deps", nil))

			// Assert
			assert.Equal(t, tt.wantCode, rec.Code)
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.wantChecks, body.Checks)
		})
	}

	t.Run("Should bound slow checkers with the configured timeout", func(t *testing.T) {
		// Arrange
		slow := observability.CheckerFunc{ComponentName: "postgres", Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		srv := observability.NewServer(log, testConfig(), slow)
		rec := httptest.NewRecorder()

		// Act
		start := time.Now()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check-deps", nil))

		// Assert
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("Should answer liveness on the custom path", func(t *testing.T) {
		srv := observability.NewServer(log, testConfig())
		rec := httptest.NewRecorder()

		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alive", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	})

	t.Run("Should expose herald metrics on the custom path", func(t *testing.T) {
		observability.DeliveryDelivered.Add(0)
		srv := observability.NewServer(log, testConfig())
		rec := httptest.NewRecorder()

		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telemetry", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "herald_delivery_notifications_delivered_total")
	})

	t.Run("Should not serve default paths when custom ones are configured", func(t *testing.T) {
		srv := observability.NewServer(log, testConfig())
		rec := httptest.NewRecorder()

		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Should tolerate shutdown before start", func(t *testing.T) {
		srv := observability.NewServer(log, testConfig())
		assert.NoError(t, srv.Shutdown(context.Background()))
		assert.Empty(t, srv.Addr())
	})
}

func TestServer_Lifecycle(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Should serve on the bound port until shutdown", func(t *testing.T) {
		// Arrange
		srv := observability.NewServer(log, testConfig())
		require.NoError(t, srv.Start())
		defer func() { _ = srv.Shutdown(context.Background()) }()

		// Act
		resp, err := http.Get("http://" + srv.Addr() + "/alive")

		// Assert
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("Should fail fast when the port is taken", func(t *testing.T) {
		// Arrange
		first := observability.NewServer(log, testConfig())
		require.NoError(t, first.Start())
		defer func() { _ = first.Shutdown(context.Background()) }()

		_, port, err := net.SplitHostPort(first.Addr())
		require.NoError(t, err)
		cfg := testConfig()
		cfg.Port = port

		// Act
		err = observability.NewServer(log, cfg).Start()

		// Assert
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to bind observability port")
	})
}

func TestRecordBuildInfo(t *testing.T) {
	observability.RecordBuildInfo(&config.AppConfig{Version: "1.4.2", Environment: "staging"}, "herald-data")

	got := testutil.ToFloat64(observability.BuildInfo.WithLabelValues("herald-data", "1.4.2", "staging"))
	assert.Equal(t, 1.0, got)
}
