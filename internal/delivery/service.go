package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heraldhq/herald/internal/logger"
	"github.com/heraldhq/herald/internal/observability"
	"github.com/heraldhq/herald/internal/ruleengine"
	"github.com/heraldhq/herald/internal/store"
)

// ErrAccountNotFound is returned when the requested account does not exist.
var ErrAccountNotFound = errors.New("delivery: account not found")

// Service runs the delivery pipeline for one request at a time; it holds no
// per-request state and is safe for concurrent use.
type Service struct {
	catalog     store.CatalogReader
	users       store.EndUserRepository
	impressions store.ImpressionRepository
	matcher     SegmentMatcher
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the pipeline. catalog is usually the L1 cache in front of the store.
func NewService(catalog store.CatalogReader, users store.EndUserRepository, impressions store.ImpressionRepository, matcher SegmentMatcher, opts ...Option) *Service {
	s := &Service{
		catalog:     catalog,
		users:       users,
		impressions: impressions,
		matcher:     matcher,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deliver returns the notifications user should see now, in catalog order.
// Anonymous users skip the frequency cap and never create an end user.
func (s *Service) Deliver(ctx context.Context, accountID string, user ruleengine.UserAttributes) ([]Payload, error) {
	log := logger.FromContext(ctx)
	anonymous := IsAnonymous(user)
	if anonymous {
		observability.DeliveryRequests.WithLabelValues("anonymous").Inc()
	} else {
		observability.DeliveryRequests.WithLabelValues("identified").Inc()
	}

	if _, err := s.catalog.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	now := s.now()
	candidates, err := s.catalog.ListCandidateNotifications(ctx, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load live notifications: %w", err)
	}

	// Candidates include upcoming and possibly cached rows; the window is decided here.
	live := make([]*store.Notification, 0, len(candidates))
	for _, n := range candidates {
		if IsLive(n, now) {
			live = append(live, n)
		}
	}
	observability.DeliveryFiltered.WithLabelValues(observability.StageActivation).Add(float64(len(candidates) - len(live)))

	eligible := make([]*store.Notification, 0, len(live))
	for _, n := range live {
		if IsEligible(s.matcher, n, user) {
			eligible = append(eligible, n)
		}
	}
	observability.DeliveryFiltered.WithLabelValues(observability.StageEligibility).Add(float64(len(live) - len(eligible)))

	if !anonymous && len(eligible) > 0 {
		capped, err := s.applyFrequencyCap(ctx, accountID, user, eligible)
		if err != nil {
			return nil, err
		}
		observability.DeliveryFiltered.WithLabelValues(observability.StageFrequency).Add(float64(len(eligible) - len(capped)))
		eligible = capped
	}

	out := make([]Payload, len(eligible))
	for i, n := range eligible {
		out[i] = ToPayload(n)
	}
	observability.DeliveryDelivered.Add(float64(len(out)))

	log.Debug("delivery computed",
		slog.String("account_id", accountID),
		slog.Bool("anonymous", anonymous),
		slog.Int("candidates", len(candidates)),
		slog.Int("delivered", len(out)),
	)
	return out, nil
}

func (s *Service) applyFrequencyCap(ctx context.Context, accountID string, user ruleengine.UserAttributes, ns []*store.Notification) ([]*store.Notification, error) {
	endUser, err := s.users.EnsureEndUser(ctx, accountID, user.ID, &user)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure end user: %w", err)
	}

	ids := make([]string, len(ns))
	for i, n := range ns {
		ids[i] = n.ID
	}
	records, err := s.impressions.ListImpressions(ctx, endUser.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load impressions: %w", err)
	}

	kept := make([]*store.Notification, 0, len(ns))
	for _, n := range ns {
		if IsWithinFrequencyCap(n, records[n.ID]) {
			kept = append(kept, n)
		}
	}
	return kept, nil
}
