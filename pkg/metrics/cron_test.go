package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "month-close-refresh"
	finished := time.Date(2024, time.April, 1, 2, 0, 0, 0, time.UTC)

	m.ObserveDuration(job, 250*time.Millisecond)
	m.IncSuccess(job, finished)
	m.IncFailure(job)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	success, err := fetchCounterValue(mfs, "proofledger_cron_job_success_total", "job", job)
	require.NoError(t, err)
	assert.Equal(t, float64(1), success)

	failure, err := fetchCounterValue(mfs, "proofledger_cron_job_failure_total", "job", job)
	require.NoError(t, err)
	assert.Equal(t, float64(1), failure)

	duration, err := fetchHistogramSum(mfs, "proofledger_cron_job_duration_seconds", "job", job)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, duration, 1e-9)

	last := findMetricFamily(mfs, "proofledger_cron_job_last_success_timestamp_seconds")
	require.NotNil(t, last)
	require.Len(t, last.GetMetric(), 1)
	assert.Equal(t, float64(finished.Unix()), last.GetMetric()[0].GetGauge().GetValue())
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveDuration("job", time.Second)
	m.IncSuccess("job", time.Now())
	NewCronJobMetrics(nil).IncFailure("")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
