package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	t.Run("Should return the injected logger instance when present", func(t *testing.T) {
		// Arrange
		expected := slog.New(slog.NewJSONHandler(io.Discard, nil))

		// Act
		got := FromContext(WithContext(context.Background(), expected))

		// Assert
		assert.Same(t, expected, got)
	})

	t.Run("Should return the global default logger when context is empty", func(t *testing.T) {
		assert.Same(t, slog.Default(), FromContext(context.Background()))
	})

	t.Run("Should accumulate attributes with With", func(t *testing.T) {
		// Arrange
		var buf bytes.Buffer
		ctx := WithContext(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

		// Act
		ctx = With(ctx, "request_id", "r-1")
		ctx = With(ctx, "account_id", "acc-9")
		FromContext(ctx).Info("authorized")

		// Assert
		assert.Contains(t, buf.String(), "request_id=r-1")
		assert.Contains(t, buf.String(), "account_id=acc-9")
	})
}
