// Package observability holds the client's Prometheus counters. A nil
// *Metrics is valid and records nothing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "deskclient"

// Metrics counts store events worth watching in the field.
type Metrics struct {
	transitions *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	reverts     *prometheus.CounterVec
	stale       *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg. Pass
// prometheus.NewRegistry() in tests to avoid global registration clashes.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"state"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		reverts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "projects",
			Name:      "optimistic_reverts_total",
			Help:      "Optimistic project mutations rolled back after a failed call.",
		}, []string{"op"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_completions_total",
			Help:      "Async completions discarded because the session changed underneath them.",
		}, []string{"component"}),
	}

	for _, c := range []prometheus.Collector{m.transitions, m.refreshes, m.reverts, m.stale} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SessionTransition records a move into state.
func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// RefreshOutcome records "ok", "rejected", "expired", "error" or "stale".
func (m *Metrics) RefreshOutcome(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// OptimisticRevert records a rolled back mutation of kind op.
func (m *Metrics) OptimisticRevert(op string) {
	if m == nil {
		return
	}
	m.reverts.WithLabelValues(op).Inc()
}

// StaleCompletion records a discarded completion in component.
func (m *Metrics) StaleCompletion(component string) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(component).Inc()
}
