package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for anonymization runs.
type Metrics struct {
	// Run outcomes by status (done, compliance_failed, config_failed, ...)
	Runs *prometheus.CounterVec

	// Generalization steps by field and scope (global, local)
	Steps *prometheus.CounterVec

	// Records removed by suppression
	Suppressed prometheus.Counter

	// Categories collapsed by the rare-category merge, by field
	RareMerged *prometheus.CounterVec

	RunDuration prometheus.Histogram
}

// New registers the anonymization metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kanon_anonymization_runs_total",
			Help: "Total anonymization runs by outcome",
		}, []string{"outcome"}),

		Steps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kanon_anonymization_generalization_steps_total",
			Help: "Total generalization steps applied by field and scope",
		}, []string{"field", "scope"}),

		Suppressed: f.NewCounter(prometheus.CounterOpts{
			Name: "kanon_anonymization_suppressed_records_total",
			Help: "Total records removed by suppression",
		}),

		RareMerged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kanon_anonymization_rare_categories_merged_total",
			Help: "Total categories collapsed into a catch-all by field",
		}, []string{"field"}),

		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kanon_anonymization_run_duration_seconds",
			Help:    "Duration of full anonymization runs",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// IncRun records a run outcome.
func (m *Metrics) IncRun(outcome string) {
	if m != nil {
		m.Runs.WithLabelValues(outcome).Inc()
	}
}

// IncStep records a generalization step.
func (m *Metrics) IncStep(field, scope string) {
	if m != nil {
		m.Steps.WithLabelValues(field, scope).Inc()
	}
}

// AddSuppressed records suppressed records.
func (m *Metrics) AddSuppressed(n int) {
	if m != nil {
		m.Suppressed.Add(float64(n))
	}
}

// AddRareMerged records categories merged for a field.
func (m *Metrics) AddRareMerged(field string, n int) {
	if m != nil {
		m.RareMerged.WithLabelValues(field).Add(float64(n))
	}
}

// ObserveRunDuration records the total run duration.
func (m *Metrics) ObserveRunDuration(d time.Duration) {
	if m != nil {
		m.RunDuration.Observe(d.Seconds())
	}
}
