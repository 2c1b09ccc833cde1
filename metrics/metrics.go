// Package metrics exposes Prometheus collectors for chain calls, lifecycle
// transitions and identifier reconciliation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors registered by New.
type Metrics struct {
	chainCalls     *prometheus.HistogramVec
	chainFailures  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	reconciliation *prometheus.CounterVec
	recoveries     *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chainCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pactflow",
			Name:      "chain_call_duration_seconds",
			Help:      "Duration of contract submissions from estimate to receipt.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"method"}),
		chainFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pactflow",
			Name:      "chain_call_failures_total",
			Help:      "Failed contract calls by method and stage.",
		}, []string{"method", "stage"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pactflow",
			Name:      "transitions_total",
			Help:      "Lifecycle operations by action and outcome.",
		}, []string{"action", "outcome"}),
		reconciliation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pactflow",
			Name:      "reconciliation_total",
			Help:      "Blockchain id resolutions by tier.",
		}, []string{"tier"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pactflow",
			Name:      "pending_recoveries_total",
			Help:      "Pending agreements handled by the sweep, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.chainCalls, m.chainFailures, m.transitions, m.reconciliation, m.recoveries)
	}
	return m
}

// ObserveChainCall records a submission; an empty stage means success.
func (m *Metrics) ObserveChainCall(method, stage string, d time.Duration) {
	if m == nil {
		return
	}
	if stage != "" {
		m.chainFailures.WithLabelValues(method, stage).Inc()
		return
	}
	m.chainCalls.WithLabelValues(method).Observe(d.Seconds())
}

// TransitionApplied counts one lifecycle operation outcome.
func (m *Metrics) TransitionApplied(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

// ReconcileTier counts the tier that resolved a blockchain id.
func (m *Metrics) ReconcileTier(tier string) {
	if m == nil {
		return
	}
	m.reconciliation.WithLabelValues(tier).Inc()
}

// PendingRecovered counts one sweep outcome.
func (m *Metrics) PendingRecovered(outcome string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(outcome).Inc()
}
