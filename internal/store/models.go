// Package store provides the Data Access Layer (Repository) for the Herald application.
// It defines the persisted models and repository contracts, with a PostgreSQL
// implementation backed by pgx and an in-memory implementation for tests and local runs.
package store

import (
	"time"

	"github.com/heraldhq/herald/internal/ruleengine"
)

// NotificationStatus is the lifecycle state stored on a notification.
// A scheduled notification becomes live by time alone; the stored status is never rewritten.
type NotificationStatus string

const (
	StatusDraft     NotificationStatus = "draft"
	StatusScheduled NotificationStatus = "scheduled"
	StatusActive    NotificationStatus = "active"
	StatusEnded     NotificationStatus = "ended"
)

// Valid reports whether s is a known status.
func (s NotificationStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusActive, StatusEnded:
		return true
	}
	return false
}

// RepeatPolicy governs redelivery of a notification to the same user.
type RepeatPolicy string

const (
	RepeatOnce      RepeatPolicy = "once"
	RepeatEveryLoad RepeatPolicy = "every_load"
)

// NotificationType is the presentation style rendered by the SDK.
type NotificationType string

const (
	TypeBanner NotificationType = "banner"
	TypeModal  NotificationType = "modal"
	TypeToast  NotificationType = "toast"
)

// Position is where the SDK places the notification on screen.
type Position string

const (
	PositionTop    Position = "top"
	PositionBottom Position = "bottom"
	PositionCenter Position = "center"
)

// Presentation defaults applied when a notification is created without them.
const (
	DefaultLang            = "en"
	DefaultBackgroundColor = "#1a1a2e"
	DefaultTextColor       = "#ffffff"
	DefaultCTAColor        = "#e94560"
)

// Account is a tenant of the platform. Only the SHA-256 hash of its API key is stored.
type Account struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	APIKeyHash string    `db:"api_key_hash"`
	CreatedAt  time.Time `db:"created_at"`
}

// Segment is the persisted form of an audience definition.
// It mirrors the 'segments' table plus its ordered 'segment_rules'.
type Segment struct {
	ID        string                  `db:"id"`
	AccountID string                  `db:"account_id"`
	Name      string                  `db:"name"`
	Rules     []ruleengine.FilterRule `db:"-"`
	CreatedAt time.Time               `db:"created_at"`
	UpdatedAt time.Time               `db:"updated_at"`
}

// Definition returns the evaluation-only view of the segment.
func (s *Segment) Definition() ruleengine.Segment {
	return ruleengine.Segment{ID: s.ID, Name: s.Name, Rules: s.Rules}
}

// Notification represents the database schema for an in-app notification.
// It mirrors the 'notifications' table. Targeting is resolved from the
// include/exclude join tables into full segment definitions when loaded.
type Notification struct {
	ID                 string             `db:"id"`
	AccountID          string             `db:"account_id"`
	Name               string             `db:"name"`
	Lang               string             `db:"lang"`
	Type               NotificationType   `db:"type"`
	Position           Position           `db:"position"`
	Status             NotificationStatus `db:"status"`
	Title              string             `db:"title"`
	Body               string             `db:"body"`
	CTAText            *string            `db:"cta_text"`
	CTAURL             *string            `db:"cta_url"`
	ImageURL           *string            `db:"image_url"`
	BackgroundColor    string             `db:"background_color"`
	TextColor          string             `db:"text_color"`
	CTAColor           string             `db:"cta_color"`
	AutoDismissSeconds *int               `db:"auto_dismiss_seconds"`
	IsDismissable      bool               `db:"is_dismissable"`
	IsSticky           bool               `db:"is_sticky"`
	StartsAt           *time.Time         `db:"starts_at"`
	EndsAt             *time.Time         `db:"ends_at"`
	MaxViewsPerUser    *int               `db:"max_views_per_user"`
	RepeatPolicy       RepeatPolicy       `db:"repeat_policy"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`

	IncludeSegments []ruleengine.Segment `db:"-"`
	ExcludeSegments []ruleengine.Segment `db:"-"`
}

// ApplyDefaults fills zero-valued presentation fields with their defaults.
func (n *Notification) ApplyDefaults() {
	if n.Lang == "" {
		n.Lang = DefaultLang
	}
	if n.Type == "" {
		n.Type = TypeBanner
	}
	if n.Position == "" {
		n.Position = PositionTop
	}
	if n.Status == "" {
		n.Status = StatusDraft
	}
	if n.BackgroundColor == "" {
		n.BackgroundColor = DefaultBackgroundColor
	}
	if n.TextColor == "" {
		n.TextColor = DefaultTextColor
	}
	if n.CTAColor == "" {
		n.CTAColor = DefaultCTAColor
	}
	if n.RepeatPolicy == "" {
		n.RepeatPolicy = RepeatOnce
	}
}

// SegmentIDs returns the ids of the given segments in order.
func SegmentIDs(segs []ruleengine.Segment) []string {
	ids := make([]string, len(segs))
	for i, s := range segs {
		ids[i] = s.ID
	}
	return ids
}

// EndUser is a user of a customer's product, identified by the customer's own id.
type EndUser struct {
	ID         string    `db:"id"`
	AccountID  string    `db:"account_id"`
	ExternalID string    `db:"external_id"`
	Email      *string   `db:"email"`
	Attributes []byte    `db:"attributes"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// ImpressionRecord is the per (notification, user) view state.
// The pair is unique and is the idempotency key for view tracking.
type ImpressionRecord struct {
	NotificationID string    `db:"notification_id"`
	UserID         string    `db:"user_id"`
	ViewCount      int       `db:"view_count"`
	IsDismissed    bool      `db:"is_dismissed"`
	FirstSeenAt    time.Time `db:"first_seen_at"`
	LastSeenAt     time.Time `db:"last_seen_at"`
}

// ClickRecord is an append-only CTA click entry.
type ClickRecord struct {
	ID             string    `db:"id"`
	NotificationID string    `db:"notification_id"`
	UserID         string    `db:"user_id"`
	CTAURLSnapshot *string   `db:"cta_url_snapshot"`
	ClickedAt      time.Time `db:"clicked_at"`
}

// NotificationStats is the raw material of an analytics report.
type NotificationStats struct {
	// Impressions holds the records first seen inside the reporting window.
	Impressions []ImpressionRecord

	// ClickTimes holds the timestamps of clicks inside the reporting window.
	ClickTimes []time.Time

	// Dismissals counts dismissed records regardless of the window.
	Dismissals int64
}

// NotificationFilter narrows ListNotifications.
type NotificationFilter struct {
	Status NotificationStatus
	Limit  int
	Offset int
}
