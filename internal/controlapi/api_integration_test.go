//go:build integration

package controlapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/controlapi"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/testsupport"
)

// TestControlPlaneAPI_Integration validates the full HTTP request lifecycle
// against PostgreSQL, with catalog invalidations published on real Redis Pub/Sub.
func TestControlPlaneAPI_Integration(t *testing.T) {
	// 1. Infrastructure Setup (Arrange)
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err, "failed to start postgres container")
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err, "failed to start redis container")
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	}()

	const channel = "herald:catalog:invalidate"
	sub := redisContainer.Client.Subscribe(ctx, channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	// 2. Application Wiring
	repo := store.NewPostgresStore(pgContainer.DB)
	acc := &store.Account{Name: "Acme", APIKeyHash: controlapi.HashAPIKey(testAPIKey)}
	require.NoError(t, repo.CreateAccount(ctx, acc))

	api := controlapi.NewAPI(repo, cache.NewRedisInvalidator(redisContainer.Client, channel))

	send := func(method, path string, body any) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
		rr := httptest.NewRecorder()
		api.Router.ServeHTTP(rr, req)
		return rr
	}

	var segmentID, notificationID string

	t.Run("POST /segments persists rules", func(t *testing.T) {
		rr := send(http.MethodPost, "/api/v1/segments", map[string]any{
			"name":  "Pro",
			"rules": []map[string]any{{"field": "plan", "operator": "in", "value": []string{"pro", "enterprise"}}},
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var seg controlapi.Segment
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &seg))
		segmentID = seg.ID

		stored, err := repo.GetSegment(ctx, acc.ID, segmentID)
		require.NoError(t, err)
		assert.Equal(t, []string{"pro", "enterprise"}, stored.Rules[0].Value)
	})

	t.Run("POST /notifications publishes an invalidation", func(t *testing.T) {
		rr := send(http.MethodPost, "/api/v1/notifications", map[string]any{
			"name":       "Upgrade",
			"title":      "Try Pro",
			"status":     "active",
			"segmentIds": []string{segmentID},
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var n controlapi.Notification
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &n))
		notificationID = n.ID
		require.Len(t, n.Segments, 1)
		assert.Equal(t, "Pro", n.Segments[0].Name)

		select {
		case msg := <-sub.Channel():
			assert.Equal(t, acc.ID, msg.Payload)
		case <-time.After(5 * time.Second):
			t.Fatal("no invalidation received")
		}
	})

	t.Run("PUT /notifications/{id} replaces targeting", func(t *testing.T) {
		rr := send(http.MethodPut, "/api/v1/notifications/"+notificationID, map[string]any{
			"excludeSegmentIds": []string{segmentID},
			"segmentIds":        []string{},
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		stored, err := repo.GetNotification(ctx, acc.ID, notificationID)
		require.NoError(t, err)
		assert.Empty(t, stored.IncludeSegments)
		require.Len(t, stored.ExcludeSegments, 1)
	})

	t.Run("POST /events stores end-user attributes", func(t *testing.T) {
		rr := send(http.MethodPost, "/api/v1/events", map[string]any{
			"event": "signed_up",
			"user":  map[string]any{"id": "ext-1", "email": "a@b.co", "plan": "pro"},
		})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		user, err := repo.EnsureEndUser(ctx, acc.ID, "ext-1", nil)
		require.NoError(t, err)
		require.NotNil(t, user.Email)
		assert.Equal(t, "a@b.co", *user.Email)
	})

	t.Run("DELETE /notifications/{id} removes the row", func(t *testing.T) {
		rr := send(http.MethodDelete, "/api/v1/notifications/"+notificationID, nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		_, err := repo.GetNotification(ctx, acc.ID, notificationID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
