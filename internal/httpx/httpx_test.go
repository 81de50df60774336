package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/validation"
)

func TestError(t *testing.T) {
	t.Run("Should write the envelope with details", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)

		InvalidInput(rr, r, "Validation failed", validation.FieldError{Field: "name", Issue: "is required"})

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		var got ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, CodeInvalidInput, got.Code)
		assert.Equal(t, []validation.FieldError{{Field: "name", Issue: "is required"}}, got.Details)
	})

	t.Run("Should omit empty details", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)

		InvalidJSON(rr, r, errors.New("unexpected EOF"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.NotContains(t, rr.Body.String(), "details")
		assert.Contains(t, rr.Body.String(), CodeInvalidJSON)
	})
}

func TestRequestLogger(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(base))
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusInternalServerError)
	})

	// Act
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	// Assert
	out := buf.String()
	assert.Contains(t, out, "inside handler")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "status=500")
	assert.Contains(t, out, "request_id=")
}

func TestMetrics(t *testing.T) {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_duration"}, []string{"method", "route"})
	total := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_total"}, []string{"method", "route", "code"})

	r := chi.NewRouter()
	r.Use(Metrics(duration, total))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/implicit", func(w http.ResponseWriter, r *http.Request) {})

	t.Run("Should label by route pattern", func(t *testing.T) {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/43", nil))

		assert.Equal(t, 2.0, testutil.ToFloat64(total.WithLabelValues("GET", "/items/{id}", "204")))
		assert.Equal(t, 1, testutil.CollectAndCount(duration))
	})

	t.Run("Should default the status to 200", func(t *testing.T) {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/implicit", nil))

		assert.Equal(t, 1.0, testutil.ToFloat64(total.WithLabelValues("GET", "/implicit", "200")))
	})

	t.Run("Should collapse unknown paths", func(t *testing.T) {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/1", nil))

		assert.Equal(t, 1.0, testutil.ToFloat64(total.WithLabelValues("GET", unmatchedRoute, "404")))
	})
}
