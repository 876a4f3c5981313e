package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// ReconcileMetrics tracks monthly report recomputation.
type ReconcileMetrics struct {
	refreshes      *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	negativeEnding *prometheus.CounterVec
	cascadeMonths  *prometheus.HistogramVec
}

// NewReconcileMetrics registers the reconciliation metrics on reg. A nil registerer
// yields a no-op recorder.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proofledger_reconcile_refresh_total",
		Help: "Report recomputations by schema and outcome.",
	}, []string{"schema", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proofledger_reconcile_refresh_duration_seconds",
		Help:    "Time to recompute and persist one monthly report.",
		Buckets: prometheus.DefBuckets,
	}, []string{"schema"})
	negative := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proofledger_reconcile_negative_ending_total",
		Help: "Recomputed reports whose ending balance is negative.",
	}, []string{"schema"})
	cascade := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proofledger_reconcile_cascade_months",
		Help:    "Number of months walked by a single cascade.",
		Buckets: []float64{0, 1, 2, 3, 6, 12, 24, 60, 120},
	}, []string{"schema"})
	reg.MustRegister(refreshes, duration, negative, cascade)
	return &ReconcileMetrics{
		refreshes:      refreshes,
		duration:       duration,
		negativeEnding: negative,
		cascadeMonths:  cascade,
	}
}

// ObserveRefresh records one recomputation attempt.
func (m *ReconcileMetrics) ObserveRefresh(schema, outcome string, elapsed time.Duration) {
	if m == nil || m.refreshes == nil {
		return
	}
	m.refreshes.WithLabelValues(normalizeLabel(schema), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(schema)).Observe(elapsed.Seconds())
}

// IncNegativeEnding counts a negative closing balance.
func (m *ReconcileMetrics) IncNegativeEnding(schema string) {
	if m == nil || m.negativeEnding == nil {
		return
	}
	m.negativeEnding.WithLabelValues(normalizeLabel(schema)).Inc()
}

// ObserveCascade records how many months a cascade walked.
func (m *ReconcileMetrics) ObserveCascade(schema string, months int) {
	if m == nil || m.cascadeMonths == nil {
		return
	}
	m.cascadeMonths.WithLabelValues(normalizeLabel(schema)).Observe(float64(months))
}
