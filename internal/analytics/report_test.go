package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldhq/herald/internal/store"
)

func TestBuildReport(t *testing.T) {
	now := time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
	day := func(offset int) time.Time { return now.AddDate(0, 0, -offset) }

	t.Run("Should sum view counts and bucket by first seen day", func(t *testing.T) {
		// Arrange
		stats := &store.NotificationStats{
			Impressions: []store.ImpressionRecord{
				{ViewCount: 60, FirstSeenAt: day(0)},
				{ViewCount: 40, FirstSeenAt: day(2)},
			},
			ClickTimes: []time.Time{day(0), day(0), day(1)},
			Dismissals: 4,
		}

		// Act
		r := BuildReport("n1", 3, now, stats)

		// Assert
		assert.Equal(t, "n1", r.NotificationID)
		assert.Equal(t, int64(100), r.TotalImpressions)
		assert.Equal(t, int64(3), r.TotalClicks)
		assert.Equal(t, int64(4), r.TotalDismissals)
		assert.InDelta(t, 3.0, r.CTR, 1e-9)
		assert.Equal(t, []DailyPoint{
			{Date: "2025-06-13", Impressions: 40},
			{Date: "2025-06-14", Clicks: 1},
			{Date: "2025-06-15", Impressions: 60, Clicks: 2},
		}, r.DailyData)
	})

	t.Run("Should zero-fill every day of the window", func(t *testing.T) {
		r := BuildReport("n1", 30, now, &store.NotificationStats{})

		require.Len(t, r.DailyData, 30)
		assert.Equal(t, "2025-05-17", r.DailyData[0].Date)
		assert.Equal(t, "2025-06-15", r.DailyData[29].Date)
		for _, p := range r.DailyData {
			assert.Zero(t, p.Impressions)
			assert.Zero(t, p.Clicks)
		}
		assert.Zero(t, r.CTR)
	})

	t.Run("Should keep out-of-series activity in the totals only", func(t *testing.T) {
		stats := &store.NotificationStats{
			Impressions: []store.ImpressionRecord{{ViewCount: 5, FirstSeenAt: day(7)}},
		}

		r := BuildReport("n1", 7, now, stats)

		assert.Equal(t, int64(5), r.TotalImpressions)
		for _, p := range r.DailyData {
			assert.Zero(t, p.Impressions, p.Date)
		}
	})

	t.Run("Should bucket by UTC day", func(t *testing.T) {
		plus5 := time.FixedZone("UTC+5", 5*3600)
		stats := &store.NotificationStats{
			// 2025-06-15 02:00 at UTC+5 is still 2025-06-14 in UTC.
			ClickTimes: []time.Time{time.Date(2025, 6, 15, 2, 0, 0, 0, plus5)},
		}

		r := BuildReport("n1", 2, now, stats)

		assert.Equal(t, int64(1), r.DailyData[0].Clicks)
		assert.Equal(t, "2025-06-14", r.DailyData[0].Date)
	})

	t.Run("Should tolerate missing stats", func(t *testing.T) {
		r := BuildReport("n1", 1, now, nil)

		assert.Len(t, r.DailyData, 1)
		assert.Zero(t, r.TotalImpressions)
	})
}
