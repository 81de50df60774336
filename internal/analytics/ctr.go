// Package analytics aggregates impressions and clicks into notification reports.
package analytics

import (
	"math"
	"strconv"
)

// CalcCTR formats the click-through rate as a percentage with one decimal,
// e.g. "10.0%". Zero impressions yield "0%".
func CalcCTR(impressions, clicks int64) string {
	if impressions == 0 {
		return "0%"
	}
	return strconv.FormatFloat(ratio(impressions, clicks), 'f', 1, 64) + "%"
}

// CTR is the numeric form of CalcCTR, rounded to one decimal.
func CTR(impressions, clicks int64) float64 {
	if impressions == 0 {
		return 0
	}
	return math.Round(ratio(impressions, clicks)*10) / 10
}

func ratio(impressions, clicks int64) float64 {
	return float64(clicks) / float64(impressions) * 100
}
