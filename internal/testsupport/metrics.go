package testsupport

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Labels selects a single series of a metric vector. Labels not listed are ignored.
type Labels map[string]string

// GetMetricValue returns the summed value of every series of metricName
// matching labels in the default registry. Counters and gauges report their
// value, histograms their sample count. Missing metrics read as zero, which
// lets delta assertions start from a series that does not exist yet.
func GetMetricValue(t *testing.T, metricName string, labels Labels) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "failed to gather metrics")

	// Gather returns families sorted by name.
	idx, found := slices.BinarySearchFunc(families, metricName, func(mf *dto.MetricFamily, name string) int {
		return strings.Compare(mf.GetName(), name)
	})
	if !found {
		return 0
	}

	var total float64
	for _, m := range families[idx].GetMetric() {
		if labels.match(m) {
			total += sampleValue(m)
		}
	}
	return total
}

func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}

func (l Labels) match(m *dto.Metric) bool {
	for name, want := range l {
		i := slices.IndexFunc(m.GetLabel(), func(p *dto.LabelPair) bool { return p.GetName() == name })
		if i < 0 || m.GetLabel()[i].GetValue() != want {
			return false
		}
	}
	return true
}

// AssertMetricDelta runs fn and asserts metricName moved by exactly expectedDelta.
func AssertMetricDelta(t *testing.T, metricName string, labels Labels, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()
	after := GetMetricValue(t, metricName, labels)

	assert.Equal(t, expectedDelta, after-before, "metric %s%v delta mismatch", metricName, labels)
}

// AssertMetricDeltaAsync is AssertMetricDelta for effects that land after fn
// returns, such as Pub/Sub handlers or queue consumers.
func AssertMetricDeltaAsync(t *testing.T, metricName string, labels Labels, expectedDelta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, metricName, labels)
	fn()

	require.Eventually(t, func() bool {
		return GetMetricValue(t, metricName, labels)-before == expectedDelta
	}, 2*time.Second, 20*time.Millisecond, "metric %s%v never moved by %+.0f", metricName, labels, expectedDelta)
}

// AssertHistogramRecorded asserts that at least one observation matches labels.
func AssertHistogramRecorded(t *testing.T, metricName string, labels Labels) {
	t.Helper()

	assert.Positive(t, GetMetricValue(t, metricName, labels), "histogram %s%v has no samples", metricName, labels)
}
