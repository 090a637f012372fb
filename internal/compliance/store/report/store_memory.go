// Package report persists audit reports: in memory for tests and one-off CLI
// runs, in PostgreSQL for the audit service, in a SQLite file as the CLI's
// local ledger.
package report

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"kanon/internal/compliance/models"
	"kanon/pkg/platform/sentinel"
)

// InMemoryStore keeps reports in a map guarded by a RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]*models.AuditReport
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{reports: make(map[uuid.UUID]*models.AuditReport)}
}

func (s *InMemoryStore) Save(_ context.Context, report *models.AuditReport) error {
	if report == nil {
		return sentinel.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[report.ID]; ok {
		return sentinel.ErrConflict
	}
	s.reports[report.ID] = clone(report)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.AuditReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.reports[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(rep), nil
}

// ListByFingerprint returns the reports of one snapshot, newest first.
func (s *InMemoryStore) ListByFingerprint(_ context.Context, fingerprint string) ([]*models.AuditReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AuditReport
	for _, rep := range s.reports {
		if rep.Fingerprint == fingerprint {
			out = append(out, clone(rep))
		}
	}
	slices.SortFunc(out, func(a, b *models.AuditReport) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func clone(r *models.AuditReport) *models.AuditReport {
	c := *r
	c.QuasiIdentifiers = slices.Clone(r.QuasiIdentifiers)
	c.ForbiddenPresent = slices.Clone(r.ForbiddenPresent)
	c.RequiredMissing = slices.Clone(r.RequiredMissing)
	c.Violations = make([]models.ClassViolation, len(r.Violations))
	for i, v := range r.Violations {
		values := make(map[string]string, len(v.Values))
		for k, val := range v.Values {
			values[k] = val
		}
		c.Violations[i] = models.ClassViolation{Values: values, Size: v.Size}
	}
	return &c
}
