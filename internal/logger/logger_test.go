package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{name: "Should parse lowercase debug", input: "debug", want: slog.LevelDebug},
		{name: "Should parse uppercase warn", input: "WARN", want: slog.LevelWarn},
		{name: "Should trim surrounding whitespace", input: "  error ", want: slog.LevelError},
		{name: "Should fall back to info on unknown level", input: "super-critical", want: slog.LevelInfo},
		{name: "Should fall back to info on empty input", input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	t.Run("Should emit JSON with service identity attributes", func(t *testing.T) {
		// Arrange
		var buf bytes.Buffer
		cfg := &config.AppConfig{Name: "herald-data", Version: "1.2.3", Environment: "staging", LogLevel: "info", LogFormat: "json"}

		// Act
		log := NewWithWriter(cfg, &buf)
		log.Info("hello", slog.String("account_id", "acc-1"))

		// Assert
		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "hello", line["msg"])
		assert.Equal(t, "herald-data", line["service"])
		assert.Equal(t, "1.2.3", line["version"])
		assert.Equal(t, "staging", line["env"])
		assert.Equal(t, "acc-1", line["account_id"])
	})

	t.Run("Should drop records below the configured level", func(t *testing.T) {
		// Arrange
		var buf bytes.Buffer
		cfg := &config.AppConfig{Name: "herald", LogLevel: "warn", LogFormat: "text", Environment: config.EnvironmentProduction}
		log := NewWithWriter(cfg, &buf)

		// Act
		log.Info("ignored")
		log.Warn("kept")

		// Assert
		assert.NotContains(t, buf.String(), "ignored")
		assert.Contains(t, buf.String(), "msg=kept")
	})

	t.Run("Should panic on nil config", func(t *testing.T) {
		assert.Panics(t, func() { NewWithWriter(nil, &bytes.Buffer{}) })
	})
}

func TestComponent(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	// Act
	Component(base, "recorder").Info("event stored")

	// Assert
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "recorder", line["component"])
}
