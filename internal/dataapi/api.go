// Package dataapi implements the SDK-facing Data Plane.
// Browsers use the HTTP API (CORS enabled); server-side SDKs use the gRPC
// Delivery service. Both share the same delivery and tracking logic.
package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/delivery"
	"github.com/heraldhq/herald/internal/events"
	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/ratelimit"
	"github.com/heraldhq/herald/internal/ruleengine"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/validation"
)

// Deliverer computes the notifications a user should see. *delivery.Service implements it.
type Deliverer interface {
	Deliver(ctx context.Context, accountID string, user ruleengine.UserAttributes) ([]delivery.Payload, error)
}

// Authorizer checks notification ownership before an event is accepted.
// *events.Recorder implements it.
type Authorizer interface {
	Authorize(ctx context.Context, accountID, notificationID string) (*store.Notification, error)
}

// API holds the dependencies shared by the HTTP and gRPC transports.
type API struct {
	// Router is the Chi multiplexer of the HTTP transport.
	Router *chi.Mux

	deliverer  Deliverer
	authorizer Authorizer
	sink       events.Sink
	limiter    ratelimit.Limiter

	logger          *slog.Logger
	deliveryTimeout time.Duration
	maxBodyBytes    int64
	allowedOrigins  []string
}

// Option customises the API.
type Option func(*API)

// WithLogger sets the base logger of the request logging middleware.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithLimiter bounds event reports per client. Without it reports are unlimited.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(a *API) {
		if l != nil {
			a.limiter = l
		}
	}
}

// NewAPI wires the Data Plane. sink receives accepted events; it is the
// Recorder itself in direct mode or a Redis queue in queue mode.
func NewAPI(cfg *config.DataPlaneConfig, deliverer Deliverer, authorizer Authorizer, sink events.Sink, opts ...Option) *API {
	validation.AssertNotNil(cfg, "data plane config")
	validation.AssertPresent(deliverer, "deliverer")
	validation.AssertPresent(authorizer, "authorizer")
	validation.AssertPresent(sink, "event sink")

	api := &API{
		Router:          chi.NewRouter(),
		deliverer:       deliverer,
		authorizer:      authorizer,
		sink:            sink,
		limiter:         ratelimit.Unlimited{},
		logger:          slog.Default(),
		deliveryTimeout: cfg.DeliveryTimeout,
		maxBodyBytes:    cfg.MaxBodyBytes,
		allowedOrigins:  cfg.AllowedOrigins,
	}
	for _, opt := range opts {
		opt(api)
	}

	api.configureRoutes()
	return api
}

// errInvalidTrack wraps validation failures of a track request.
type errInvalidTrack struct {
	details []validation.FieldError
}

func (e *errInvalidTrack) Error() string {
	return fmt.Sprintf("invalid track request: %d field error(s)", len(e.details))
}

// deliver runs the pipeline under the delivery timeout. Only
// delivery.ErrAccountNotFound is returned; every other failure degrades to
// an empty list.
func (a *API) deliver(ctx context.Context, accountID string, rawUser json.RawMessage) ([]delivery.Payload, error) {
	log := logger.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, a.deliveryTimeout)
	defer cancel()

	user := delivery.ParseUserPayload(rawUser)
	payloads, err := a.deliverer.Deliver(ctx, accountID, user)
	switch {
	case errors.Is(err, delivery.ErrAccountNotFound):
		return nil, err
	case err != nil:
		observability.DeliveryFailures.Inc()
		log.Error("delivery failed, answering with an empty list",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
		return []delivery.Payload{}, nil
	}
	if payloads == nil {
		payloads = []delivery.Payload{}
	}
	return payloads, nil
}

// track validates and authorizes a report, then hands it to the sink.
// Sink failures are logged only: the SDK has nothing useful to do with them.
func (a *API) track(ctx context.Context, req *TrackRequest) error {
	req.Sanitize()
	if details := validation.Struct(req); details != nil {
		return &errInvalidTrack{details: details}
	}
	kind, err := events.ParseKind(req.Event)
	if err != nil {
		return &errInvalidTrack{details: []validation.FieldError{{Field: "event", Issue: err.Error()}}}
	}

	if _, err := a.authorizer.Authorize(ctx, req.AccountID, req.NotificationID); err != nil {
		return err
	}

	ev := events.Event{
		AccountID:      req.AccountID,
		NotificationID: req.NotificationID,
		ExternalUserID: req.UserID,
		Kind:           kind,
		CTAURL:         req.CTAURL,
		OccurredAt:     time.Now().UTC(),
	}
	if err := a.sink.Submit(ctx, ev); err != nil {
		logger.FromContext(ctx).Error("failed to record event",
			slog.String("notification_id", ev.NotificationID),
			slog.String("event", string(ev.Kind)),
			slog.String("error", err.Error()))
	}
	return nil
}
