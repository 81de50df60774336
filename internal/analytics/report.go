package analytics

import (
	"time"

	"github.com/heraldhq/herald/internal/store"
)

// DateLayout is the format of DailyPoint.Date.
const DateLayout = "2006-01-02"

// DailyPoint holds the activity of one UTC calendar day.
type DailyPoint struct {
	Date        string `json:"date"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`
}

// Report is the analytics summary of a single notification.
type Report struct {
	NotificationID   string       `json:"notificationId"`
	TotalImpressions int64        `json:"totalImpressions"`
	TotalClicks      int64        `json:"totalClicks"`
	TotalDismissals  int64        `json:"totalDismissals"`
	CTR              float64      `json:"ctr"`
	DailyData        []DailyPoint `json:"dailyData"`
}

// BuildReport aggregates stats over the last 'days' days ending at now.
//
// Impressions count view_count (not records) and are bucketed by the day the
// record was first seen. Clicks are bucketed by click time. Days without
// activity are present with zeros; the series is ascending. Activity outside
// the series is still part of the totals.
func BuildReport(notificationID string, days int, now time.Time, stats *store.NotificationStats) Report {
	report := Report{NotificationID: notificationID, DailyData: []DailyPoint{}}
	if stats == nil {
		stats = &store.NotificationStats{}
	}

	index := make(map[string]int, max(days, 0))
	today := now.UTC()
	for i := days - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i).Format(DateLayout)
		index[date] = len(report.DailyData)
		report.DailyData = append(report.DailyData, DailyPoint{Date: date})
	}

	for _, imp := range stats.Impressions {
		views := int64(imp.ViewCount)
		report.TotalImpressions += views
		if i, ok := index[imp.FirstSeenAt.UTC().Format(DateLayout)]; ok {
			report.DailyData[i].Impressions += views
		}
	}

	for _, at := range stats.ClickTimes {
		report.TotalClicks++
		if i, ok := index[at.UTC().Format(DateLayout)]; ok {
			report.DailyData[i].Clicks++
		}
	}

	report.TotalDismissals = stats.Dismissals
	report.CTR = CTR(report.TotalImpressions, report.TotalClicks)
	return report
}
