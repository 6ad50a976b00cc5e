package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobMetricsTrack(t *testing.T) {
	reg := prometheus.NewRegistry()
	jobs := NewJobMetrics(reg)
	jobs.Track("outbox-publisher", time.Now().Add(-250*time.Millisecond), nil)
	jobs.Track("outbox-publisher", time.Now(), errors.New("redis down"))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := counterValue(mfs, "job_success", map[string]string{"job": "outbox-publisher"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	got, err = counterValue(mfs, "job_failure", map[string]string{"job": "outbox-publisher"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	mf := findFamily(mfs, "job_duration_seconds")
	require.NotNil(t, mf)
	assert.Greater(t, mf.GetMetric()[0].GetHistogram().GetSampleSum(), 0.2)
}

func TestMarketCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMarket(reg)
	m.Settlement("balance", "settled")
	m.Settlement("balance", "settled")
	m.Settlement("external", "already_settled")
	m.LockBusy("purchase")
	m.Moderation("approve")
	m.Payout("")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := counterValue(mfs, "market_settlements_total", map[string]string{"funding": "balance", "result": "settled"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = counterValue(mfs, "market_payouts_total", map[string]string{"outcome": "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestNilRecordersAreNoops(t *testing.T) {
	var m *Market
	var j *JobMetrics
	assert.NotPanics(t, func() {
		m.Settlement("balance", "settled")
		m.LockBusy("x")
		j.Track("x", time.Now(), nil)
		NewMarket(nil).Moderation("reject")
		NewJobMetrics(nil).IncFailure("x")
	})
}

func counterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matches(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q has no series %v", name, labels)
}

func findFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matches(pairs []*dto.LabelPair, want map[string]string) bool {
	found := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok {
			if v != p.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(want)
}
