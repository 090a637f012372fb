//go:build integration

package report_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"kanon/internal/compliance/models"
	"kanon/internal/compliance/store/report"
	"kanon/pkg/platform/sentinel"
	"kanon/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *report.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = report.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_reports"))
}

func newReport(fingerprint string, createdAt time.Time) *models.AuditReport {
	return &models.AuditReport{
		ID:               uuid.New(),
		Fingerprint:      fingerprint,
		K:                3,
		QuasiIdentifiers: []string{"period", "age", "sex"},
		TotalRecords:     7,
		ClassCount:       2,
		MinClassSize:     1,
		ViolatingRecords: 1,
		Violations:       []models.ClassViolation{{Values: map[string]string{"period": "2023-H2", "age": "ALL_AGES", "sex": "I"}, Size: 1}},
		ForbiddenPresent: []string{"nome"},
		RequiredMissing:  []string{},
		Passed:           false,
		CreatedAt:        createdAt.UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	rep := newReport("fp-1", time.Now())
	s.Require().NoError(s.store.Save(ctx, rep))

	got, err := s.store.FindByID(ctx, rep.ID)
	s.Require().NoError(err)
	s.Equal(rep.QuasiIdentifiers, got.QuasiIdentifiers)
	s.Equal(rep.Violations, got.Violations)
	s.Equal(rep.ForbiddenPresent, got.ForbiddenPresent)
	s.Equal(rep.RequiredMissing, got.RequiredMissing)
	s.True(rep.CreatedAt.Equal(got.CreatedAt))
}

func (s *PostgresStoreSuite) TestUnknownIDIsNotFound() {
	_, err := s.store.FindByID(context.Background(), uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentSaveOfOneReport verifies exactly one writer persists a
// report id and the rest observe a conflict.
func (s *PostgresStoreSuite) TestConcurrentSaveOfOneReport() {
	ctx := context.Background()
	rep := newReport("fp-1", time.Now())
	const goroutines = 20

	var wg sync.WaitGroup
	var saved, conflicts atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := s.store.Save(ctx, rep); {
			case err == nil:
				saved.Add(1)
			case err == sentinel.ErrConflict:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), saved.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestListByFingerprint() {
	ctx := context.Background()
	base := time.Now()
	older := newReport("fp-1", base.Add(-time.Hour))
	newer := newReport("fp-1", base)
	s.Require().NoError(s.store.Save(ctx, older))
	s.Require().NoError(s.store.Save(ctx, newer))
	s.Require().NoError(s.store.Save(ctx, newReport("fp-2", base)))

	got, err := s.store.ListByFingerprint(ctx, "fp-1")
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(newer.ID, got[0].ID)
	s.Equal(older.ID, got[1].ID)
}
