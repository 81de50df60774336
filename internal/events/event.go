// Package events records what users do with delivered notifications.
//
// The Recorder turns view, click and dismiss reports into impression and
// click rows. A Sink decides whether a report is recorded inline (the
// Recorder itself) or queued in Redis for the worker.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the type of user interaction being reported.
type Kind string

const (
	KindView    Kind = "view"
	KindClick   Kind = "click"
	KindDismiss Kind = "dismiss"
)

// ErrUnknownKind is returned by ParseKind for anything but view, click or dismiss.
var ErrUnknownKind = errors.New("events: unknown event kind")

// ParseKind converts the wire name of an event kind. Matching is case-sensitive.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindView, KindClick, KindDismiss:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, strings.TrimSpace(s))
}

// Event is a single interaction report. It is also the queue message format.
type Event struct {
	AccountID      string    `json:"accountId"`
	NotificationID string    `json:"notificationId"`
	ExternalUserID string    `json:"userId"`
	Kind           Kind      `json:"event"`
	CTAURL         *string   `json:"ctaUrl,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}
