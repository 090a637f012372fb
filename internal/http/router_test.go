package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"kanon/internal/platform/metrics"
	"kanon/pkg/testutil"
)

type pingHandler struct{}

func (pingHandler) Register(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func newRouter(checks map[string]HealthCheck) http.Handler {
	reg := metrics.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(logger, metrics.New(reg), reg, checks, pingHandler{})
}

func TestHealthz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("all dependencies up", func(t *testing.T) {
		rr := testutil.DoRequest(newRouter(map[string]HealthCheck{"database": ok, "redis": ok}), testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatus(t, rr, http.StatusOK)
		testutil.AssertJSONContains(t, rr, "status", "ok")
	})

	t.Run("one dependency down", func(t *testing.T) {
		rr := testutil.DoRequest(newRouter(map[string]HealthCheck{"database": ok, "redis": down}), testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		resp := testutil.UnmarshalResponse[healthResponse](t, rr)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "ok", resp.Checks["database"])
		assert.Equal(t, "connection refused", resp.Checks["redis"])
	})
}

func TestMetricsEndpointExposesRequests(t *testing.T) {
	router := newRouter(nil)
	testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/ping"))

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.Contains(t, rr.Body.String(), `kanon_http_requests_total{method="GET",route="/ping",status="204"} 1`)
}

func TestRequestIDIsEchoed(t *testing.T) {
	rr := testutil.DoRequest(newRouter(nil), testutil.NewRequest(t, http.MethodGet, "/ping"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}
