package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP metrics shared by every router.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors, ready for the per-module metrics to register on.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates and registers the HTTP metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kanon_http_requests_total",
			Help: "HTTP requests by route pattern and status",
		}, []string{"route", "method", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kanon_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(route, method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, method, status).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
