package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heraldhq/herald/internal/store"
)

const (
	// DefaultDays is the report window when none is requested.
	DefaultDays = 30

	// MaxDays bounds the report window.
	MaxDays = 365
)

var (
	ErrNotificationNotFound = errors.New("analytics: notification not found")
	ErrInvalidDays          = fmt.Errorf("analytics: days must be between 1 and %d", MaxDays)
)

// Service builds reports for notifications owned by an account.
type Service struct {
	catalog store.CatalogReader
	stats   store.AnalyticsRepository
	now     func() time.Time
}

func NewService(catalog store.CatalogReader, stats store.AnalyticsRepository) *Service {
	return &Service{catalog: catalog, stats: stats, now: time.Now}
}

// WithClock returns a copy of s using now as its time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	c := *s
	c.now = now
	return &c
}

// NotificationReport returns the report of notificationID over the last 'days' days.
func (s *Service) NotificationReport(ctx context.Context, accountID, notificationID string, days int) (Report, error) {
	if days < 1 || days > MaxDays {
		return Report{}, ErrInvalidDays
	}

	if _, err := s.catalog.GetNotification(ctx, accountID, notificationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Report{}, ErrNotificationNotFound
		}
		return Report{}, fmt.Errorf("failed to load notification: %w", err)
	}

	now := s.now()
	since := now.AddDate(0, 0, -days)
	stats, err := s.stats.NotificationStats(ctx, notificationID, since)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load notification stats: %w", err)
	}
	return BuildReport(notificationID, days, now, stats), nil
}
