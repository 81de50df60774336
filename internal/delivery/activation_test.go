package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/heraldhq/herald/internal/store"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestIsLive(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	tests := []struct {
		name string
		n    store.Notification
		want bool
	}{
		{
			name: "Should be live when scheduled window contains now",
			n:    store.Notification{Status: store.StatusScheduled, StartsAt: &yesterday, EndsAt: &tomorrow},
			want: true,
		},
		{
			name: "Should not be live when scheduled start is in the future",
			n:    store.Notification{Status: store.StatusScheduled, StartsAt: &tomorrow, EndsAt: timePtr(tomorrow.Add(time.Hour))},
			want: false,
		},
		{
			name: "Should not be live when scheduled without a start",
			n:    store.Notification{Status: store.StatusScheduled},
			want: false,
		},
		{
			name: "Should be live when scheduled start equals now",
			n:    store.Notification{Status: store.StatusScheduled, StartsAt: timePtr(now)},
			want: true,
		},
		{
			name: "Should be live when active with no end",
			n:    store.Notification{Status: store.StatusActive},
			want: true,
		},
		{
			name: "Should be live when active and end equals now",
			n:    store.Notification{Status: store.StatusActive, EndsAt: timePtr(now)},
			want: true,
		},
		{
			name: "Should not be live when active but already ended",
			n:    store.Notification{Status: store.StatusActive, EndsAt: &yesterday},
			want: false,
		},
		{
			name: "Should ignore the start date of an active notification",
			n:    store.Notification{Status: store.StatusActive, StartsAt: &tomorrow},
			want: true,
		},
		{
			name: "Should never be live as draft",
			n:    store.Notification{Status: store.StatusDraft, StartsAt: &yesterday, EndsAt: &tomorrow},
			want: false,
		},
		{
			name: "Should never be live as ended",
			n:    store.Notification{Status: store.StatusEnded},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLive(&tt.n, now))
		})
	}
}
