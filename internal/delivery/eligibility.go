package delivery

import (
	"github.com/heraldhq/herald/internal/ruleengine"
	"github.com/heraldhq/herald/internal/store"
)

// SegmentMatcher evaluates audience membership. *ruleengine.Engine implements it.
type SegmentMatcher interface {
	UserMatchesSegment(attrs ruleengine.UserAttributes, segment ruleengine.Segment) bool
}

// IsEligible applies the targeting of n to a user: the user must match at least
// one include segment (or n has none) and must match no exclude segment.
// Exclusions are honoured even when the include list is empty.
func IsEligible(m SegmentMatcher, n *store.Notification, attrs ruleengine.UserAttributes) bool {
	if len(n.IncludeSegments) > 0 && !matchesAny(m, n.IncludeSegments, attrs) {
		return false
	}
	return !matchesAny(m, n.ExcludeSegments, attrs)
}

func matchesAny(m SegmentMatcher, segments []ruleengine.Segment, attrs ruleengine.UserAttributes) bool {
	for _, s := range segments {
		if m.UserMatchesSegment(attrs, s) {
			return true
		}
	}
	return false
}

// FilterNotificationsForUser returns the ids of eligible notifications, in input order.
func FilterNotificationsForUser(m SegmentMatcher, notifications []*store.Notification, attrs ruleengine.UserAttributes) []string {
	ids := make([]string, 0, len(notifications))
	for _, n := range notifications {
		if IsEligible(m, n, attrs) {
			ids = append(ids, n.ID)
		}
	}
	return ids
}
