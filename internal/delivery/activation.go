// Package delivery decides which notifications a user sees right now.
//
// The pipeline is: live catalog -> activation window -> segment eligibility ->
// frequency cap -> SDK payload. Every predicate here is pure and safe for
// concurrent use; only Service touches storage.
package delivery

import (
	"time"

	"github.com/heraldhq/herald/internal/store"
)

// IsLive reports whether n is inside its activation window at now.
//
// An active notification is live until EndsAt. A scheduled one becomes live
// at StartsAt without anyone rewriting its status. Both bounds are inclusive.
// Drafts and ended notifications are never live.
func IsLive(n *store.Notification, now time.Time) bool {
	notEnded := n.EndsAt == nil || !n.EndsAt.Before(now)

	switch n.Status {
	case store.StatusActive:
		return notEnded
	case store.StatusScheduled:
		return n.StartsAt != nil && !n.StartsAt.After(now) && notEnded
	default:
		return false
	}
}
