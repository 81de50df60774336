package store

import (
	"context"
	"errors"
	"time"

	"github.com/heraldhq/herald/internal/ruleengine"
)

var (
	// ErrNotFound is returned when a record does not exist or belongs to another account.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("store: conflict")

	// ErrInvalidReference is returned when a write references segments the account does not own.
	ErrInvalidReference = errors.New("store: invalid reference")
)

// AccountRepository resolves tenants.
type AccountRepository interface {
	// CreateAccount inserts a new account and populates its ID and CreatedAt.
	CreateAccount(ctx context.Context, a *Account) error

	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetAccountByAPIKeyHash resolves the account owning a hashed API key.
	GetAccountByAPIKeyHash(ctx context.Context, hash string) (*Account, error)
}

// CatalogReader is the read path of the delivery pipeline.
type CatalogReader interface {
	GetAccount(ctx context.Context, id string) (*Account, error)

	// ListCandidateNotifications returns the notifications of an account that are live at 'now'
	// or will go live later without operator action: active or scheduled with a start, and not
	// ended before 'now'. Include/exclude segments are fully resolved and the list is ordered by
	// creation time (oldest first). The result may be cached, so callers decide liveness per request.
	ListCandidateNotifications(ctx context.Context, accountID string, now time.Time) ([]*Notification, error)

	// GetNotification returns a notification only if it belongs to accountID.
	GetNotification(ctx context.Context, accountID, id string) (*Notification, error)
}

// SegmentRepository manages audience definitions.
type SegmentRepository interface {
	CreateSegment(ctx context.Context, s *Segment) error
	GetSegment(ctx context.Context, accountID, id string) (*Segment, error)

	// ListSegments returns every segment of the account, newest first.
	ListSegments(ctx context.Context, accountID string) ([]*Segment, error)

	// ReplaceSegment updates the name and rewrites the rule set wholesale.
	// The segment identity is preserved.
	ReplaceSegment(ctx context.Context, s *Segment) error

	DeleteSegment(ctx context.Context, accountID, id string) error
}

// NotificationRepository manages the notification catalog.
type NotificationRepository interface {
	// CreateNotification inserts a notification and its targeting.
	// Only the ID of each entry in IncludeSegments/ExcludeSegments is read.
	CreateNotification(ctx context.Context, n *Notification) error

	GetNotification(ctx context.Context, accountID, id string) (*Notification, error)

	// ListNotifications retrieves a page of notifications and the total count, newest first.
	ListNotifications(ctx context.Context, accountID string, filter NotificationFilter) ([]*Notification, int64, error)

	// UpdateNotification overwrites every mutable field and the targeting of a notification.
	UpdateNotification(ctx context.Context, n *Notification) error

	UpdateNotificationStatus(ctx context.Context, accountID, id string, status NotificationStatus) (*Notification, error)
	DeleteNotification(ctx context.Context, accountID, id string) error
}

// EndUserRepository manages the identities of end users.
type EndUserRepository interface {
	// EnsureEndUser creates the end user if missing. When attrs is non-nil the
	// stored email and attributes are refreshed from it.
	EnsureEndUser(ctx context.Context, accountID, externalID string, attrs *ruleengine.UserAttributes) (*EndUser, error)
}

// ImpressionRepository owns the per (notification, user) view state.
// Both writes are single atomic upserts; callers never read-modify-write.
type ImpressionRepository interface {
	// ListImpressions returns the records of userID keyed by notification id.
	ListImpressions(ctx context.Context, userID string, notificationIDs []string) (map[string]*ImpressionRecord, error)

	// IncrementView creates the record with ViewCount=1 or increments it and bumps LastSeenAt.
	IncrementView(ctx context.Context, notificationID, userID string, now time.Time) (*ImpressionRecord, error)

	// MarkDismissed creates the record with ViewCount=0 or sets IsDismissed, leaving ViewCount untouched.
	MarkDismissed(ctx context.Context, notificationID, userID string, now time.Time) (*ImpressionRecord, error)
}

// ClickRepository is the append-only click log.
type ClickRepository interface {
	AppendClick(ctx context.Context, c *ClickRecord) error
}

// AnalyticsRepository provides the inputs of notification reports.
type AnalyticsRepository interface {
	NotificationStats(ctx context.Context, notificationID string, since time.Time) (*NotificationStats, error)
}

// Repository is the union of every contract, implemented by both stores.
type Repository interface {
	AccountRepository
	CatalogReader
	SegmentRepository
	NotificationRepository
	EndUserRepository
	ImpressionRepository
	ClickRepository
	AnalyticsRepository
}
