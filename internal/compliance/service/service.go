// Package service certifies dataset snapshots on behalf of the CLI and the
// audit HTTP endpoint, persisting every report and caching results by
// snapshot fingerprint.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kanon/internal/compliance"
	"kanon/internal/compliance/metrics"
	"kanon/internal/compliance/models"
	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
	audit "kanon/pkg/platform/audit"
	"kanon/pkg/platform/sentinel"
	"kanon/pkg/requestcontext"
)

// ReportStore persists audit reports.
type ReportStore interface {
	Save(ctx context.Context, report *models.AuditReport) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.AuditReport, error)
	ListByFingerprint(ctx context.Context, fingerprint string) ([]*models.AuditReport, error)
}

// Cache holds reports by audit cache key. Get returns sentinel.ErrCacheMiss
// when the key is absent.
type Cache interface {
	Get(ctx context.Context, key string) (*models.AuditReport, error)
	Set(ctx context.Context, key string, report *models.AuditReport) error
}

// AuditPublisher records certifications. Emit is fail-closed.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// TxRunner runs fn in a transaction carried by the context it passes on.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type noTx struct{}

func (noTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Service certifies snapshots.
type Service struct {
	store          ReportStore
	tx             TxRunner
	cache          Cache
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
	tracer         trace.Tracer
	codec          dataset.Codec
	now            func() time.Time
}

type Option func(*Service)

func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithTxRunner makes the report and its audit event commit together when
// both live in the same database.
func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithCodec sets the codec whose encoding the snapshot fingerprint covers.
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

// New constructs a Service around the report store.
func New(store ReportStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("report store is required")
	}
	s := &Service{
		store:  store,
		tx:     noTx{},
		logger: slog.Default(),
		tracer: otel.Tracer("kanon/compliance"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Audit certifies ds under req. A snapshot that fails is returned as a
// report with Passed false; errors are reserved for unusable requests,
// missing columns and infrastructure failures. Repeating an audit of the
// same snapshot and request returns the cached report when a cache is set.
func (s *Service) Audit(ctx context.Context, ds *dataset.Dataset, req models.AuditRequest) (*models.AuditReport, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, "compliance.audit", trace.WithAttributes(
		attribute.Int("k", req.K),
		attribute.Int("records", ds.Len()),
	))
	defer span.End()

	rep, err := s.audit(ctx, ds, req)
	s.metrics.ObserveAuditDuration(s.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncAudit("error")
		s.logger.ErrorContext(ctx, "audit failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, err
	}

	outcome := "pass"
	if !rep.Passed {
		outcome = "fail"
	}
	s.metrics.IncAudit(outcome)
	span.SetAttributes(attribute.String("report_id", rep.ID.String()), attribute.Bool("passed", rep.Passed))
	s.logger.InfoContext(ctx, "snapshot audited",
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
		"report_id", rep.ID,
		"status", rep.Status(),
		"fingerprint", rep.Fingerprint,
		"min_class_size", rep.MinClassSize,
		"violations", len(rep.Violations),
	)
	return rep, nil
}

func (s *Service) audit(ctx context.Context, ds *dataset.Dataset, req models.AuditRequest) (*models.AuditReport, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fingerprint, err := s.codec.Fingerprint(ds)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fingerprint snapshot")
	}
	key := req.CacheKey(fingerprint)
	if rep, ok := s.lookup(ctx, key); ok {
		return rep, nil
	}

	rep, err := compliance.Certify(ds, req)
	if err != nil {
		return nil, err
	}
	rep.ID = uuid.New()
	rep.Fingerprint = fingerprint
	rep.CreatedAt = s.now().UTC()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Save(ctx, rep); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "save audit report")
		}
		return s.emit(ctx, rep)
	})
	if err != nil {
		var coded *dErrors.Error
		if !errors.As(err, &coded) {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "persist audit report")
		}
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, rep); err != nil {
			s.logger.WarnContext(ctx, "failed to cache audit report",
				"report_id", rep.ID,
				"error", err,
			)
		}
	}
	return rep, nil
}

func (s *Service) lookup(ctx context.Context, key string) (*models.AuditReport, bool) {
	if s.cache == nil {
		return nil, false
	}
	rep, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		s.metrics.IncCacheLookup("hit")
		return rep, true
	case errors.Is(err, sentinel.ErrCacheMiss):
		s.metrics.IncCacheLookup("miss")
	default:
		s.metrics.IncCacheLookup("error")
		s.logger.WarnContext(ctx, "audit cache unavailable", "error", err)
	}
	return nil, false
}

func (s *Service) emit(ctx context.Context, rep *models.AuditReport) error {
	if s.auditPublisher == nil {
		return nil
	}
	action := audit.EventAuditPassed
	if !rep.Passed {
		action = audit.EventAuditFailed
	}
	err := s.auditPublisher.Emit(ctx, audit.ComplianceEvent{
		RunID:       rep.ID.String(),
		Action:      action,
		Fingerprint: rep.Fingerprint,
		Decision:    rep.Status(),
		K:           rep.K,
		Records:     rep.TotalRecords,
		RequestID:   requestcontext.RequestID(ctx),
		ActorID:     requestcontext.ActorID(ctx),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "record audit")
	}
	return nil
}

// Get loads a stored report by its id.
func (s *Service) Get(ctx context.Context, id string) (*models.AuditReport, error) {
	reportID, err := uuid.Parse(id)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid report id")
	}
	rep, err := s.store.FindByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "report not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find report")
	}
	return rep, nil
}

// History lists the reports issued for one snapshot, newest first.
func (s *Service) History(ctx context.Context, fingerprint string) ([]*models.AuditReport, error) {
	if fingerprint == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "fingerprint is required")
	}
	reps, err := s.store.ListByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list reports")
	}
	return reps, nil
}
