package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"kanon/internal/compliance/handler/mocks"
	audit "kanon/pkg/platform/audit"
	auditmemory "kanon/pkg/platform/audit/store/memory"
	"kanon/pkg/testutil"
)

func TestEvents(t *testing.T) {
	ctx := context.Background()
	store := auditmemory.NewInMemoryStore()
	runID := uuid.NewString()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, audit.Event{ID: uuid.New(), Category: audit.CategoryCompliance, Timestamp: at, RunID: runID, Action: "audit_passed", Decision: "PASS", K: 5}))
	require.NoError(t, store.Append(ctx, audit.Event{ID: uuid.New(), Category: audit.CategoryCompliance, Timestamp: at.Add(time.Minute), RunID: "other", Action: "audit_failed", Decision: "FAIL"}))

	ctrl := gomock.NewController(t)
	r := chi.NewRouter()
	New(mocks.NewMockService(ctrl), mocks.NewMockProfileSource(ctrl), token,
		slog.New(slog.NewTextHandler(io.Discard, nil)), WithEventReader(store)).Register(r)

	type eventsBody struct {
		Events []eventResponse `json:"events"`
	}

	testutil.Given(t, "a report with recorded events", func(t *testing.T) {
		req := testutil.WithAdminToken(testutil.NewRequest(t, http.MethodGet, "/reports/"+runID+"/events"), token)
		rr := testutil.DoRequest(r, req)
		testutil.Then(t, "only its events are listed", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusOK)
			body := testutil.UnmarshalResponse[eventsBody](t, rr)
			require.Len(t, body.Events, 1)
			assert.Equal(t, "audit_passed", body.Events[0].Action)
			assert.Equal(t, 5, body.Events[0].K)
		})
	})

	testutil.Given(t, "a limit on recent events", func(t *testing.T) {
		req := testutil.WithAdminToken(testutil.NewRequest(t, http.MethodGet, "/events?limit=1"), token)
		rr := testutil.DoRequest(r, req)
		testutil.Then(t, "the newest event comes first", func(t *testing.T) {
			body := testutil.UnmarshalResponse[eventsBody](t, rr)
			require.Len(t, body.Events, 1)
			assert.Equal(t, "other", body.Events[0].RunID)
		})
	})

	testutil.Given(t, "an invalid limit", func(t *testing.T) {
		req := testutil.WithAdminToken(testutil.NewRequest(t, http.MethodGet, "/events?limit=-3"), token)
		rr := testutil.DoRequest(r, req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})
}

func TestEventRoutesNeedAReader(t *testing.T) {
	ctrl := gomock.NewController(t)
	r := chi.NewRouter()
	New(mocks.NewMockService(ctrl), mocks.NewMockProfileSource(ctrl), token, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	req := testutil.WithAdminToken(testutil.NewRequest(t, http.MethodGet, "/events"), token)
	testutil.AssertStatus(t, testutil.DoRequest(r, req), http.StatusNotFound)
}
