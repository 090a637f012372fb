// Package middleware enforces per-client request budgets on the audit
// routes. A Redis store is the primary; after repeated Redis errors a
// circuit breaker routes checks to an in-memory fallback until Redis
// recovers.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"kanon/internal/ratelimit/models"
	"kanon/internal/ratelimit/store/bucket"
	"kanon/pkg/platform/circuit"
	"kanon/pkg/platform/httputil"
	metadata "kanon/pkg/platform/middleware/metadata"
)

// StatusHeader is set to "degraded" while the fallback store answers.
const StatusHeader = "X-RateLimit-Status"

// Store admits or rejects one request under key.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	primary  Store
	fallback Store
	breaker  *circuit.Breaker
	limit    models.Limit
	logger   *slog.Logger
}

type Option func(*Middleware)

// WithFallback replaces the in-memory fallback store.
func WithFallback(s Store) Option {
	return func(m *Middleware) {
		m.fallback = s
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.breaker = b
	}
}

func New(primary Store, limit models.Limit, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		limit:   limit,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fallback == nil {
		m.fallback = bucket.NewInMemoryBucketStore()
	}
	if m.breaker == nil {
		m.breaker = circuit.New("ratelimit")
	}
	if !limit.Enabled() {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Limit returns middleware charging each client one request against the
// route's budget.
func (m *Middleware) Limit(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.limit.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			key := models.ClientKey(route, metadata.ClientIPFromRequest(r))
			result, degraded, err := m.check(r.Context(), key)
			if err != nil {
				m.logger.Error("rate limit check failed, allowing request", "error", err, "route", route)
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result, degraded)
			if !result.Allowed {
				writeExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// check asks the primary store first so the breaker sees every outcome.
// The fallback answers only while the breaker is open.
func (m *Middleware) check(ctx context.Context, key string) (*models.Result, bool, error) {
	result, err := m.primary.Allow(ctx, key, m.limit.Requests, m.limit.Window)
	if err != nil {
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.Warn("rate limit store unavailable, using in-memory fallback", "breaker", m.breaker.Name(), "error", err)
		}
		if !useFallback {
			return nil, false, err
		}
		return m.fromFallback(ctx, key)
	}

	usePrimary, change := m.breaker.RecordSuccess()
	if change.Closed {
		m.logger.Info("rate limit store recovered", "breaker", m.breaker.Name())
	}
	if !usePrimary {
		return m.fromFallback(ctx, key)
	}
	return result, false, nil
}

func (m *Middleware) fromFallback(ctx context.Context, key string) (*models.Result, bool, error) {
	result, err := m.fallback.Allow(ctx, key, m.limit.Requests, m.limit.Window)
	return result, true, err
}

func addHeaders(w http.ResponseWriter, result *models.Result, degraded bool) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if degraded {
		w.Header().Set(StatusHeader, "degraded")
	}
}

func writeExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:            "rate_limit_exceeded",
		ErrorDescription: "too many audit requests from this address",
		RetryAfter:       result.RetryAfter,
	})
}
