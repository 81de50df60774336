package delivery

import "github.com/heraldhq/herald/internal/store"

// IsWithinFrequencyCap reports whether n may be shown again given the user's
// impression record. A nil record means the user never saw it.
// Dismissal alone does not suppress redelivery.
func IsWithinFrequencyCap(n *store.Notification, rec *store.ImpressionRecord) bool {
	if rec == nil {
		return true
	}
	if n.MaxViewsPerUser != nil && rec.ViewCount >= *n.MaxViewsPerUser {
		return false
	}
	if n.RepeatPolicy == store.RepeatOnce && rec.ViewCount >= 1 {
		return false
	}
	return true
}
