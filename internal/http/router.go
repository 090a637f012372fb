// Package httpapi assembles the service router: shared middleware, health
// and metrics endpoints, and the module handlers.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kanon/internal/platform/metrics"
	"kanon/internal/platform/middleware"
	"kanon/pkg/platform/httputil"
	"kanon/pkg/platform/middleware/requesttime"
)

// Registrar is implemented by module handlers.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one dependency answers.
type HealthCheck func(ctx context.Context) error

// healthTimeout bounds the whole /healthz probe.
const healthTimeout = 2 * time.Second

// NewRouter wires the shared middleware, /healthz, /metrics and every
// module handler.
func NewRouter(logger *slog.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer, checks map[string]HealthCheck, handlers ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(m))

	r.Get("/healthz", healthHandler(checks))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// healthHandler answers 200 when every dependency is up and 503 otherwise.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}
		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, resp)
	}
}
