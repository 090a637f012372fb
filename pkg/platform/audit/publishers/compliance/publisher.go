// Package compliance provides a fail-closed audit publisher for regulatory events.
//
// Publisher emits compliance events with synchronous, fail-closed semantics.
// The caller blocks until the store write succeeds. If the write fails, an
// error is returned and the calling operation MUST fail: a dataset whose
// release could not be recorded is not released.
//
// Use for: dataset_released, anonymization_failed, audit_passed, audit_failed
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "kanon/pkg/platform/audit"
)

// Publisher emits compliance events with fail-closed semantics.
// All writes are synchronous - the caller blocks until persistence succeeds or fails.
type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// New creates a compliance publisher.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously writes a compliance event to the audit store.
// Returns error if persistence fails - the caller MUST fail its operation.
func (p *Publisher) Emit(ctx context.Context, event audit.ComplianceEvent) error {
	start := time.Now()

	if event.RunID == "" {
		return fmt.Errorf("compliance event requires RunID")
	}
	if event.Action == "" {
		return fmt.Errorf("compliance event requires Action")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}

	stored := event.ToEvent()
	stored.ID = uuid.New()

	if err := p.store.Append(ctx, stored); err != nil {
		p.metrics.IncPersistFailures()
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: compliance audit failed",
				"action", event.Action,
				"run_id", event.RunID,
				"error", err,
			)
		}
		return fmt.Errorf("compliance audit persistence failed: %w", err)
	}

	p.metrics.ObservePersistDuration(time.Since(start).Seconds())
	p.metrics.IncEventsEmitted()
	return nil
}

// Close is a no-op for the synchronous compliance publisher.
func (p *Publisher) Close() error {
	return nil
}
