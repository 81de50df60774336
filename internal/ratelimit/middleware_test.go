package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/heraldhq/herald/internal/ratelimit"
	"github.com/heraldhq/herald/internal/testsupport"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis down")
}

func newHandler(l ratelimit.Limiter) http.Handler {
	limited := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) }
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return ratelimit.Middleware(l, limited)(ok)
}

func request(remote string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sdk/track", nil)
	r.RemoteAddr = remote
	return r
}

func TestMiddleware(t *testing.T) {
	t.Run("Should reject the client over its limit", func(t *testing.T) {
		// Arrange
		h := newHandler(ratelimit.NewMemoryLimiter(1, time.Minute))
		first := httptest.NewRecorder()
		h.ServeHTTP(first, request("10.0.0.1:5000"))

		// Act
		second := httptest.NewRecorder()
		testsupport.AssertMetricDelta(t, "herald_data_plane_rate_limited_total", nil, 1, func() {
			h.ServeHTTP(second, request("10.0.0.1:6000"))
		})

		// Assert
		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
	})

	t.Run("Should not share limits between clients", func(t *testing.T) {
		h := newHandler(ratelimit.NewMemoryLimiter(1, time.Minute))
		h.ServeHTTP(httptest.NewRecorder(), request("10.0.0.1:5000"))

		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, request("10.0.0.2:5000"))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should fail open when the limiter errors", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newHandler(brokenLimiter{}).ServeHTTP(rr, request("10.0.0.1:5000"))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should skip headers when limiting is disabled", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newHandler(ratelimit.Unlimited{}).ServeHTTP(rr, request("10.0.0.1:5000"))

		assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
	})
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "203.0.113.9", ratelimit.ClientIP(request("203.0.113.9:443")))
	assert.Equal(t, "::1", ratelimit.ClientIP(request("[::1]:443")))
	assert.Equal(t, "203.0.113.9", ratelimit.ClientIP(request("203.0.113.9")))
}
