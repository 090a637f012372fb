package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.ObserveRequest("/reports/{id}", "GET", "200", 10*time.Millisecond)
	m.ObserveRequest("/reports/{id}", "GET", "200", 20*time.Millisecond)
	m.ObserveRequest("/reports/{id}", "GET", "404", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/reports/{id}", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/reports/{id}", "GET", "404")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
	assert.Contains(t, names, "kanon_http_request_duration_seconds")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.ObserveRequest("/", "GET", "200", time.Second) })
}
