package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"kanon/internal/compliance/models"
	"kanon/internal/platform/database"
	"kanon/pkg/platform/sentinel"
)

type reportStore interface {
	Save(ctx context.Context, report *models.AuditReport) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.AuditReport, error)
	ListByFingerprint(ctx context.Context, fingerprint string) ([]*models.AuditReport, error)
}

// StoreSuite runs the same behaviour checks against every local backend.
type StoreSuite struct {
	suite.Suite
	ctx     context.Context
	newFunc func(t *testing.T) reportStore
	store   reportStore
}

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newFunc: func(*testing.T) reportStore { return NewInMemoryStore() }})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newFunc: func(t *testing.T) reportStore {
		ctx := context.Background()
		db, err := database.Open(ctx, database.Config{
			Driver: database.DriverSQLite,
			URL:    filepath.Join(t.TempDir(), "ledger.db"),
		})
		if err != nil {
			t.Fatalf("open ledger: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		if err := database.Migrate(ctx, db, database.DriverSQLite); err != nil {
			t.Fatalf("migrate ledger: %v", err)
		}
		return NewSQLite(db)
	}})
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newFunc(s.T())
}

func newReport(fingerprint string, createdAt time.Time, passed bool) *models.AuditReport {
	rep := &models.AuditReport{
		ID:               uuid.New(),
		Fingerprint:      fingerprint,
		K:                3,
		QuasiIdentifiers: []string{"period", "age", "sex"},
		TotalRecords:     1965,
		ClassCount:       120,
		MinClassSize:     3,
		Violations:       []models.ClassViolation{},
		ForbiddenPresent: []string{},
		RequiredMissing:  []string{},
		Passed:           passed,
		CreatedAt:        createdAt.UTC(),
	}
	if !passed {
		rep.MinClassSize = 1
		rep.ViolatingRecords = 1
		rep.Violations = []models.ClassViolation{{Values: map[string]string{"period": "2023-H2", "age": "ALL_AGES", "sex": "I"}, Size: 1}}
		rep.ForbiddenPresent = []string{"nome"}
	}
	return rep
}

func (s *StoreSuite) TestSaveAndFind() {
	rep := newReport("fp-1", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), false)
	s.Require().NoError(s.store.Save(s.ctx, rep))

	got, err := s.store.FindByID(s.ctx, rep.ID)
	s.Require().NoError(err)
	s.Equal(rep, got)
}

func (s *StoreSuite) TestFindUnknownIsNotFound() {
	_, err := s.store.FindByID(s.ctx, uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestSaveTwiceConflicts() {
	rep := newReport("fp-1", time.Now(), true)
	s.Require().NoError(s.store.Save(s.ctx, rep))
	s.ErrorIs(s.store.Save(s.ctx, rep), sentinel.ErrConflict)
}

func (s *StoreSuite) TestSaveNilIsRejected() {
	s.ErrorIs(s.store.Save(s.ctx, nil), sentinel.ErrInvalidInput)
}

func (s *StoreSuite) TestListByFingerprintNewestFirst() {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	older := newReport("fp-1", base, true)
	newer := newReport("fp-1", base.Add(90*time.Millisecond), true)
	other := newReport("fp-2", base.Add(time.Hour), true)
	for _, r := range []*models.AuditReport{older, other, newer} {
		s.Require().NoError(s.store.Save(s.ctx, r))
	}

	got, err := s.store.ListByFingerprint(s.ctx, "fp-1")
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(newer.ID, got[0].ID)
	s.Equal(older.ID, got[1].ID)

	none, err := s.store.ListByFingerprint(s.ctx, "fp-3")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *StoreSuite) TestReturnedReportsAreCopies() {
	rep := newReport("fp-1", time.Now(), false)
	s.Require().NoError(s.store.Save(s.ctx, rep))

	got, err := s.store.FindByID(s.ctx, rep.ID)
	s.Require().NoError(err)
	got.QuasiIdentifiers[0] = "changed"
	got.Violations[0].Values["sex"] = "F"

	again, err := s.store.FindByID(s.ctx, rep.ID)
	s.Require().NoError(err)
	s.Equal("period", again.QuasiIdentifiers[0])
	s.Equal("I", again.Violations[0].Values["sex"])
}
