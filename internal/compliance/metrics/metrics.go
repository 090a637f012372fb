package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for snapshot audits.
type Metrics struct {
	// Audit outcomes (pass, fail, error)
	Audits *prometheus.CounterVec

	// Cache lookups by result (hit, miss, error)
	CacheLookups *prometheus.CounterVec

	AuditDuration prometheus.Histogram
}

// New registers the compliance metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Audits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kanon_compliance_audits_total",
			Help: "Total snapshot audits by outcome",
		}, []string{"outcome"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kanon_compliance_cache_lookups_total",
			Help: "Audit cache lookups by result",
		}, []string{"result"}),

		AuditDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kanon_compliance_audit_duration_seconds",
			Help:    "Duration of snapshot audits, cache hits included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

func (m *Metrics) IncAudit(outcome string) {
	if m != nil {
		m.Audits.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveAuditDuration(d time.Duration) {
	if m != nil {
		m.AuditDuration.Observe(d.Seconds())
	}
}
