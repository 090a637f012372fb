package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for compliance audit emission.
type Metrics struct {
	EventsEmitted   prometheus.Counter
	PersistFailures prometheus.Counter
	PersistDuration prometheus.Histogram
}

// NewMetrics registers the compliance audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "kanon_audit_compliance_emitted_total",
			Help: "Total number of compliance audit events persisted",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "kanon_audit_compliance_persist_failures_total",
			Help: "Total number of compliance audit events that failed to persist",
		}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kanon_audit_compliance_persist_duration_seconds",
			Help:    "Duration of synchronous compliance audit writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncEventsEmitted increments the emitted counter.
func (m *Metrics) IncEventsEmitted() {
	if m != nil {
		m.EventsEmitted.Inc()
	}
}

// IncPersistFailures increments the persist failures counter.
func (m *Metrics) IncPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

// ObservePersistDuration records a write duration in seconds.
func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m != nil {
		m.PersistDuration.Observe(seconds)
	}
}
