package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/store"
)

// ErrNotificationNotFound is returned when the notification does not exist
// or belongs to another account.
var ErrNotificationNotFound = errors.New("events: notification not found")

// Sink accepts validated events for recording.
type Sink interface {
	Submit(ctx context.Context, ev Event) error
}

// defaultMaxPendingPublishes bounds the publishes in flight per Recorder.
const defaultMaxPendingPublishes = 256

// Recorder applies events to the impression and click stores.
//
// Forwarding to the Publisher happens in the background once the write has
// succeeded, so a slow or unreachable broker never adds latency to track.
// When too many publishes are pending the event is dropped from the stream;
// the write itself is never affected.
type Recorder struct {
	catalog     store.CatalogReader
	users       store.EndUserRepository
	impressions store.ImpressionRepository
	clicks      store.ClickRepository
	publisher   Publisher
	now         func() time.Time

	publishSlots chan struct{}
	publishing   sync.WaitGroup
}

var _ Sink = (*Recorder)(nil)

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithPublisher forwards every recorded event to p.
func WithPublisher(p Publisher) RecorderOption {
	return func(r *Recorder) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithMaxPendingPublishes caps the background publishes in flight. Non-positive
// values keep the default.
func WithMaxPendingPublishes(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.publishSlots = make(chan struct{}, n)
		}
	}
}

// WithClock overrides the time source used when an event carries no timestamp.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder. Without WithPublisher nothing is forwarded.
func NewRecorder(catalog store.CatalogReader, users store.EndUserRepository, impressions store.ImpressionRepository, clicks store.ClickRepository, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		catalog:     catalog,
		users:       users,
		impressions: impressions,
		clicks:      clicks,
		publisher:   NoopPublisher{},
		now:         time.Now,

		publishSlots: make(chan struct{}, defaultMaxPendingPublishes),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Authorize checks that notificationID belongs to accountID.
func (r *Recorder) Authorize(ctx context.Context, accountID, notificationID string) (*store.Notification, error) {
	n, err := r.catalog.GetNotification(ctx, accountID, notificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to load notification: %w", err)
	}
	return n, nil
}

// Submit records the event inline.
func (r *Recorder) Submit(ctx context.Context, ev Event) error {
	return r.Record(ctx, ev)
}

// Record writes a single event. The end user is created on first contact.
// A view is an atomic increment; a dismiss never changes the view count;
// clicks are appended without deduplication.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now()
	}

	if err := r.write(ctx, ev); err != nil {
		observability.EventsRecorded.WithLabelValues(string(ev.Kind), "fail").Inc()
		return err
	}
	observability.EventsRecorded.WithLabelValues(string(ev.Kind), "success").Inc()

	r.publish(ctx, ev)
	return nil
}

// publish forwards ev in the background. The request context is detached so
// the publish outlives the HTTP or gRPC call that recorded the event.
func (r *Recorder) publish(ctx context.Context, ev Event) {
	log := logger.FromContext(ctx)

	select {
	case r.publishSlots <- struct{}{}:
	default:
		observability.EventsPublished.WithLabelValues("dropped").Inc()
		log.Warn("publish backlog full, event not forwarded",
			slog.String("notification_id", ev.NotificationID),
			slog.String("event", string(ev.Kind)),
		)
		return
	}

	ctx = context.WithoutCancel(ctx)
	r.publishing.Add(1)
	go func() {
		defer r.publishing.Done()
		defer func() { <-r.publishSlots }()

		if err := r.publisher.Publish(ctx, ev); err != nil {
			observability.EventsPublished.WithLabelValues("fail").Inc()
			log.Warn("failed to publish event",
				slog.String("notification_id", ev.NotificationID),
				slog.String("event", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every background publish has finished. Call it before
// closing the Publisher.
func (r *Recorder) Wait() {
	r.publishing.Wait()
}

func (r *Recorder) write(ctx context.Context, ev Event) error {
	if _, err := ParseKind(string(ev.Kind)); err != nil {
		return err
	}

	user, err := r.users.EnsureEndUser(ctx, ev.AccountID, ev.ExternalUserID, nil)
	if err != nil {
		return fmt.Errorf("failed to ensure end user: %w", err)
	}

	switch ev.Kind {
	case KindView:
		_, err = r.impressions.IncrementView(ctx, ev.NotificationID, user.ID, ev.OccurredAt)
	case KindDismiss:
		_, err = r.impressions.MarkDismissed(ctx, ev.NotificationID, user.ID, ev.OccurredAt)
	case KindClick:
		err = r.clicks.AppendClick(ctx, &store.ClickRecord{
			NotificationID: ev.NotificationID,
			UserID:         user.ID,
			CTAURLSnapshot: ev.CTAURL,
			ClickedAt:      ev.OccurredAt,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", ev.Kind, err)
	}
	return nil
}
