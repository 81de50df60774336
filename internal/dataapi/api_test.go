package dataapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/dataapi"
	"github.com/heraldhq/herald/internal/delivery"
	"github.com/heraldhq/herald/internal/events"
	"github.com/heraldhq/herald/internal/httpx"
	"github.com/heraldhq/herald/internal/ratelimit"
	"github.com/heraldhq/herald/internal/ruleengine"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/testsupport"
)

// bufSize defines the buffer size for the in-memory network via bufconn.
const bufSize = 1024 * 1024

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	mem      *store.MemoryStore
	recorder *events.Recorder
	account  *store.Account
	pro      *store.Notification
	general  *store.Notification
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemoryStore()
	acc := &store.Account{Name: "Acme", APIKeyHash: "hash"}
	require.NoError(t, mem.CreateAccount(ctx, acc))

	seg := &store.Segment{AccountID: acc.ID, Name: "Pro", Rules: []ruleengine.FilterRule{
		{Field: "plan", Operator: ruleengine.OpEq, Value: []string{"pro"}},
	}}
	require.NoError(t, mem.CreateSegment(ctx, seg))

	general := &store.Notification{AccountID: acc.ID, Name: "General", Title: "Hello", Status: store.StatusActive}
	require.NoError(t, mem.CreateNotification(ctx, general))
	pro := &store.Notification{
		AccountID: acc.ID, Name: "Pro only", Title: "Pro tips", Status: store.StatusActive,
		IncludeSegments: []ruleengine.Segment{{ID: seg.ID}},
	}
	require.NoError(t, mem.CreateNotification(ctx, pro))

	return &fixture{
		mem:      mem,
		recorder: events.NewRecorder(mem, mem, mem, mem),
		account:  acc,
		pro:      pro,
		general:  general,
	}
}

func dataConfig() *config.DataPlaneConfig {
	return &config.DataPlaneConfig{
		DeliveryTimeout: time.Second,
		MaxBodyBytes:    1024,
		AllowedOrigins:  []string{"*"},
	}
}

func (f *fixture) newAPI(deliverer dataapi.Deliverer, sink events.Sink, opts ...dataapi.Option) *dataapi.API {
	if deliverer == nil {
		deliverer = delivery.NewService(f.mem, f.mem, f.mem, ruleengine.New(discard))
	}
	if sink == nil {
		sink = f.recorder
	}
	opts = append([]dataapi.Option{dataapi.WithLogger(discard)}, opts...)
	return dataapi.NewAPI(dataConfig(), deliverer, f.recorder, sink, opts...)
}

func post(api *dataapi.API, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)
	return rr
}

func deliveredIDs(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp dataapi.DeliverResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	ids := make([]string, len(resp.Notifications))
	for i, p := range resp.Notifications {
		ids[i] = p.ID
	}
	return ids
}

type failingDeliverer struct{}

func (failingDeliverer) Deliver(context.Context, string, ruleengine.UserAttributes) ([]delivery.Payload, error) {
	return nil, errors.New("connection refused")
}

type failingSink struct{}

func (failingSink) Submit(context.Context, events.Event) error {
	return errors.New("queue unavailable")
}

// capturingSink records submitted events.
type capturingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *capturingSink) Submit(_ context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func TestHTTP_Deliver(t *testing.T) {
	f := newFixture(t)
	api := f.newAPI(nil, nil)

	tests := []struct {
		name        string
		body        string
		expectedIDs []string
	}{
		{
			name:        "Should serve targeted notifications to a matching user",
			body:        `{"user":{"id":"u1","plan":"pro"}}`,
			expectedIDs: []string{f.general.ID, f.pro.ID},
		},
		{
			name:        "Should skip targeted notifications for other users",
			body:        `{"user":{"id":"u2","plan":"free"}}`,
			expectedIDs: []string{f.general.ID},
		},
		{
			name:        "Should treat an empty body as anonymous",
			body:        ``,
			expectedIDs: []string{f.general.ID},
		},
		{
			name:        "Should treat a malformed user as anonymous",
			body:        `{"user":{"id":42}}`,
			expectedIDs: []string{f.general.ID},
		},
		{
			name:        "Should treat a body that is not JSON as anonymous",
			body:        `{"user":`,
			expectedIDs: []string{f.general.ID},
		},
		{
			name:        "Should treat a non-object body as anonymous",
			body:        `not json`,
			expectedIDs: []string{f.general.ID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			rr := post(api, "/api/v1/sdk/"+f.account.ID, tt.body)

			// Assert
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Equal(t, tt.expectedIDs, deliveredIDs(t, rr))
		})
	}

	t.Run("Should return 404 for an unknown account", func(t *testing.T) {
		rr := post(api, "/api/v1/sdk/missing", `{}`)

		require.Equal(t, http.StatusNotFound, rr.Code)
		var resp httpx.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, httpx.CodeNotFound, resp.Code)
	})

	t.Run("Should reject an oversized body", func(t *testing.T) {
		rr := post(api, "/api/v1/sdk/"+f.account.ID, `{"user":{"id":"`+strings.Repeat("x", 2048)+`"}}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})

	t.Run("Should degrade to an empty list when delivery fails", func(t *testing.T) {
		// Arrange
		broken := f.newAPI(failingDeliverer{}, nil)
		var rr *httptest.ResponseRecorder

		// Act
		testsupport.AssertMetricDelta(t, "herald_delivery_failures_total", nil, 1, func() {
			rr = post(broken, "/api/v1/sdk/"+f.account.ID, `{"user":{"id":"u1"}}`)
		})

		// Assert
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"notifications":[]}`, rr.Body.String())
	})
}

func TestHTTP_CORS(t *testing.T) {
	f := newFixture(t)
	api := f.newAPI(nil, nil)

	t.Run("Should answer preflight for any origin", func(t *testing.T) {
		// Arrange
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/sdk/track", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rr := httptest.NewRecorder()

		// Act
		api.Router.ServeHTTP(rr, req)

		// Assert
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})
}

func TestHTTP_Track(t *testing.T) {
	t.Run("Should record a view", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		api := f.newAPI(nil, nil)
		body := `{"accountId":"` + f.account.ID + `","notificationId":"` + f.general.ID + `","userId":"u1","event":"view"}`

		// Act
		rr := post(api, "/api/v1/sdk/track", body)

		// Assert
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.JSONEq(t, `{"ok":true}`, rr.Body.String())

		user, err := f.mem.EnsureEndUser(context.Background(), f.account.ID, "u1", nil)
		require.NoError(t, err)
		recs, err := f.mem.ListImpressions(context.Background(), user.ID, []string{f.general.ID})
		require.NoError(t, err)
		require.Contains(t, recs, f.general.ID)
		assert.Equal(t, 1, recs[f.general.ID].ViewCount)
	})

	t.Run("Should pass the click URL to the sink", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		sink := &capturingSink{}
		api := f.newAPI(nil, sink)
		body := `{"accountId":"` + f.account.ID + `","notificationId":"` + f.general.ID + `","userId":" u1 ","event":"click","ctaUrl":"https://example.com"}`

		// Act
		rr := post(api, "/api/v1/sdk/track", body)

		// Assert
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		require.Len(t, sink.events, 1)
		ev := sink.events[0]
		assert.Equal(t, events.KindClick, ev.Kind)
		assert.Equal(t, "u1", ev.ExternalUserID)
		require.NotNil(t, ev.CTAURL)
		assert.Equal(t, "https://example.com", *ev.CTAURL)
		assert.False(t, ev.OccurredAt.IsZero())
	})

	t.Run("Should reject invalid reports", func(t *testing.T) {
		f := newFixture(t)
		api := f.newAPI(nil, nil)

		tests := []struct {
			name          string
			body          string
			expectedField string
		}{
			{
				name:          "Should require a user id",
				body:          `{"accountId":"a","notificationId":"n","event":"view"}`,
				expectedField: "userId",
			},
			{
				name:          "Should reject an unknown event",
				body:          `{"accountId":"a","notificationId":"n","userId":"u","event":"hover"}`,
				expectedField: "event",
			},
			{
				name:          "Should reject an event with the wrong case",
				body:          `{"accountId":"a","notificationId":"n","userId":"u","event":"VIEW"}`,
				expectedField: "event",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rr := post(api, "/api/v1/sdk/track", tt.body)

				require.Equal(t, http.StatusBadRequest, rr.Code)
				var resp httpx.ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				require.NotEmpty(t, resp.Details)
				assert.Equal(t, tt.expectedField, resp.Details[0].Field)
			})
		}
	})

	t.Run("Should return 404 for a notification of another account", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		sink := &capturingSink{}
		api := f.newAPI(nil, sink)
		other := &store.Account{Name: "Other", APIKeyHash: "other"}
		require.NoError(t, f.mem.CreateAccount(context.Background(), other))
		body := `{"accountId":"` + other.ID + `","notificationId":"` + f.general.ID + `","userId":"u1","event":"view"}`

		// Act
		rr := post(api, "/api/v1/sdk/track", body)

		// Assert
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Empty(t, sink.events)
	})

	t.Run("Should still answer ok when the sink fails", func(t *testing.T) {
		f := newFixture(t)
		api := f.newAPI(nil, failingSink{})
		body := `{"accountId":"` + f.account.ID + `","notificationId":"` + f.general.ID + `","userId":"u1","event":"dismiss"}`

		rr := post(api, "/api/v1/sdk/track", body)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should rate limit per client IP", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		api := f.newAPI(nil, nil, dataapi.WithLimiter(ratelimit.NewMemoryLimiter(2, time.Minute)))
		body := `{"accountId":"` + f.account.ID + `","notificationId":"` + f.general.ID + `","userId":"u1","event":"view"}`

		// Act
		first := post(api, "/api/v1/sdk/track", body)
		second := post(api, "/api/v1/sdk/track", body)
		var third *httptest.ResponseRecorder
		testsupport.AssertMetricDelta(t, "herald_data_plane_rate_limited_total", nil, 1, func() {
			third = post(api, "/api/v1/sdk/track", body)
		})
		deliver := post(api, "/api/v1/sdk/"+f.account.ID, `{}`)

		// Assert
		assert.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, http.StatusOK, second.Code)
		require.Equal(t, http.StatusTooManyRequests, third.Code)
		var resp httpx.ErrorResponse
		require.NoError(t, json.Unmarshal(third.Body.Bytes(), &resp))
		assert.Equal(t, httpx.CodeRateLimited, resp.Code)
		assert.Equal(t, http.StatusOK, deliver.Code, "delivery is not rate limited")
	})
}

// startGRPC serves api over bufconn and returns a connected client.
func startGRPC(t *testing.T, api *dataapi.API) *dataapi.DeliveryClient {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			dataapi.RequestLoggerInterceptor(discard),
			dataapi.ObservabilityInterceptor(),
		),
	)
	api.Register(s)
	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough://bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		s.Stop()
	})
	return dataapi.NewDeliveryClient(conn)
}

func TestGRPC_Deliver(t *testing.T) {
	f := newFixture(t)
	client := startGRPC(t, f.newAPI(nil, nil))
	ctx := context.Background()

	t.Run("Should deliver over gRPC", func(t *testing.T) {
		resp, err := client.Deliver(ctx, &dataapi.DeliverRequest{
			AccountID: f.account.ID,
			User:      json.RawMessage(`{"id":"u1","plan":"pro"}`),
		})

		require.NoError(t, err)
		require.Len(t, resp.Notifications, 2)
		assert.Equal(t, "Pro tips", resp.Notifications[1].Title)
	})

	tests := []struct {
		name         string
		req          *dataapi.DeliverRequest
		expectedCode codes.Code
	}{
		{
			name:         "Should reject a missing account id",
			req:          &dataapi.DeliverRequest{},
			expectedCode: codes.InvalidArgument,
		},
		{
			name:         "Should return NotFound for an unknown account",
			req:          &dataapi.DeliverRequest{AccountID: "missing"},
			expectedCode: codes.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := map[string]string{"method": dataapi.DeliverFullMethod, "code": tt.expectedCode.String()}

			testsupport.AssertMetricDelta(t, "herald_data_plane_grpc_requests_total", labels, 1, func() {
				_, err := client.Deliver(ctx, tt.req)
				assert.Equal(t, tt.expectedCode, status.Code(err))
			})
			testsupport.AssertHistogramRecorded(t, "herald_data_plane_grpc_handling_seconds", labels)
		})
	}

	t.Run("Should degrade to an empty list when delivery fails", func(t *testing.T) {
		// Arrange
		broken := startGRPC(t, f.newAPI(failingDeliverer{}, nil))
		var (
			resp *dataapi.DeliverResponse
			err  error
		)

		// Act
		testsupport.AssertMetricDelta(t, "herald_delivery_failures_total", nil, 1, func() {
			resp, err = broken.Deliver(ctx, &dataapi.DeliverRequest{AccountID: f.account.ID, User: json.RawMessage(`{"id":"u1"}`)})
		})

		// Assert
		require.NoError(t, err)
		assert.Empty(t, resp.Notifications)
	})
}

func TestGRPC_Track(t *testing.T) {
	f := newFixture(t)
	client := startGRPC(t, f.newAPI(nil, nil, dataapi.WithLimiter(ratelimit.NewMemoryLimiter(2, time.Minute))))
	ctx := context.Background()
	valid := &dataapi.TrackRequest{AccountID: f.account.ID, NotificationID: f.general.ID, UserID: "u1", Event: "view"}

	resp, err := client.Track(ctx, valid)
	require.NoError(t, err)
	assert.True(t, resp.OK)

	_, err = client.Track(ctx, &dataapi.TrackRequest{AccountID: f.account.ID, NotificationID: "missing", UserID: "u1", Event: "view"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Track(ctx, valid)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	user, err := f.mem.EnsureEndUser(ctx, f.account.ID, "u1", nil)
	require.NoError(t, err)
	recs, err := f.mem.ListImpressions(ctx, user.ID, []string{f.general.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, recs[f.general.ID].ViewCount)
}

func TestGRPC_Track_InvalidArgument(t *testing.T) {
	f := newFixture(t)
	client := startGRPC(t, f.newAPI(nil, nil))

	_, err := client.Track(context.Background(), &dataapi.TrackRequest{AccountID: "a", NotificationID: "n", UserID: "u", Event: "open"})

	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

