//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "kanon/pkg/platform/audit"
	"kanon/pkg/platform/audit/store/postgres"
	"kanon/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *AuditStoreSuite) TestRedeliveryIsIgnored() {
	ctx := context.Background()
	id := uuid.New()
	event := audit.Event{
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		RunID:     "run-1",
		Action:    string(audit.EventDatasetReleased),
		Decision:  "PASS",
	}
	s.Require().NoError(s.store.AppendWithID(ctx, id, event))
	s.Require().NoError(s.store.AppendWithID(ctx, id, event))

	events, err := s.store.ListByRun(ctx, "run-1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(id, events[0].ID)
	s.Equal(audit.CategoryCompliance, events[0].Category)
}

func (s *AuditStoreSuite) TestListRecentNewestFirst() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.Append(ctx, audit.Event{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			RunID:     uuid.NewString(),
			Action:    string(audit.EventAuditPassed),
		}))
	}
	events, err := s.store.ListRecent(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.True(events[0].Timestamp.After(events[1].Timestamp))
}
