// Package metrics holds the Prometheus instruments of the advisor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Session outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTruncated = "truncated"
	OutcomeError     = "error"
)

// Metrics holds all Prometheus metrics for the advisor.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	HypoCreated     prometheus.Counter
	HypoDropped     prometheus.Counter
	CleanupFailures prometheus.Counter
	LanesDestroyed  prometheus.Counter
	Explains        prometheus.Counter
	Evaluations     prometheus.Counter
	Sessions        *prometheus.CounterVec
	SessionDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	hypoCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pgadvisor_hypothetical_indexes_created_total",
		Help: "Hypothetical indexes created with hypopg_create_index",
	})

	hypoDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pgadvisor_hypothetical_indexes_dropped_total",
		Help: "Hypothetical indexes dropped with hypopg_drop_index",
	})

	cleanupFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pgadvisor_cleanup_failures_total",
		Help: "Hypothetical index drops that failed",
	})

	lanesDestroyed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pgadvisor_lanes_destroyed_total",
		Help: "Connections closed because hypothetical state could not be reset",
	})

	explains := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pgadvisor_planner_explains_total",
		Help: "EXPLAIN round trips issued to the planner",
	})

	evaluations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pgadvisor_configuration_evaluations_total",
		Help: "Workload cost evaluations under a hypothetical index configuration",
	})

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pgadvisor_sessions_total",
		Help: "Advisory sessions by outcome",
	}, []string{"outcome"})

	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pgadvisor_session_duration_seconds",
		Help:    "Wall time of advisory sessions",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	reg.MustRegister(hypoCreated, hypoDropped, cleanupFailures, lanesDestroyed, explains, evaluations, sessions, sessionDuration)

	return &Metrics{
		HypoCreated:     hypoCreated,
		HypoDropped:     hypoDropped,
		CleanupFailures: cleanupFailures,
		LanesDestroyed:  lanesDestroyed,
		Explains:        explains,
		Evaluations:     evaluations,
		Sessions:        sessions,
		SessionDuration: sessionDuration,
	}
}

// Inc increments c when m is non-nil.
func (m *Metrics) Inc(c func(*Metrics) prometheus.Counter) {
	if m != nil {
		c(m).Inc()
	}
}

// ObserveSession records a finished session.
func (m *Metrics) ObserveSession(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(seconds)
}

// Counter selectors for Inc.
var (
	HypoCreated     = func(m *Metrics) prometheus.Counter { return m.HypoCreated }
	HypoDropped     = func(m *Metrics) prometheus.Counter { return m.HypoDropped }
	CleanupFailures = func(m *Metrics) prometheus.Counter { return m.CleanupFailures }
	LanesDestroyed  = func(m *Metrics) prometheus.Counter { return m.LanesDestroyed }
	Explains        = func(m *Metrics) prometheus.Counter { return m.Explains }
	Evaluations     = func(m *Metrics) prometheus.Counter { return m.Evaluations }
)
