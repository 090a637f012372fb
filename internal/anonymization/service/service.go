// Package service drives an anonymization run end to end: schema checks,
// base recoding, the rare-category merge, the generalize-validate loop,
// suppression as the last resort and the release of a shuffled snapshot with
// its compliance report.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"kanon/internal/anonymization/metrics"
	"kanon/internal/dataset"
	audit "kanon/pkg/platform/audit"
)

// AuditPublisher records releases and failed runs. Emit must be fail-closed:
// a release whose event cannot be persisted is not released.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// Service orchestrates anonymization runs. It holds no per-run state and is
// safe to share; each run owns its working set exclusively.
type Service struct {
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	tracer         trace.Tracer
	codec          dataset.Codec
	now            func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithCodec sets the codec whose encoding the release fingerprint covers.
func WithCodec(codec dataset.Codec) Option {
	return func(s *Service) {
		s.codec = codec
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New constructs a Service.
func New(opts ...Option) *Service {
	s := &Service{
		logger: slog.Default(),
		tracer: otel.Tracer("kanon/anonymization"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
