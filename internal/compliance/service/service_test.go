package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kanon/internal/compliance/metrics"
	"kanon/internal/compliance/models"
	"kanon/internal/compliance/service/mocks"
	"kanon/internal/compliance/store/report"
	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
	audit "kanon/pkg/platform/audit"
	"kanon/pkg/platform/sentinel"
	"kanon/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	store     *report.InMemoryStore
	cache     *mocks.MockCache
	publisher *mocks.MockAuditPublisher
	metrics   *metrics.Metrics
	service   *Service
	now       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithActorID(requestcontext.WithRequestID(context.Background(), "req-1"), "admin")
	s.ctrl = gomock.NewController(s.T())
	s.store = report.NewInMemoryStore()
	s.cache = mocks.NewMockCache(s.ctrl)
	s.publisher = mocks.NewMockAuditPublisher(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var err error
	s.service, err = New(s.store,
		WithCache(s.cache),
		WithAuditPublisher(s.publisher),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) snapshot(sexes ...string) *dataset.Dataset {
	ds, err := dataset.New([]string{"id", "age", "sex"})
	s.Require().NoError(err)
	for i, sex := range sexes {
		s.Require().NoError(ds.Append(dataset.Categorical(string(rune('1'+i))), dataset.Categorical("18-39"), dataset.Categorical(sex)))
	}
	return ds
}

func (s *ServiceSuite) request() models.AuditRequest {
	return models.AuditRequest{QuasiIdentifiers: []string{"age", "sex"}, K: 3, Forbidden: []string{"nome"}}
}

func (s *ServiceSuite) TestPassingAuditIsStoredCachedAndRecorded() {
	ds := s.snapshot("F", "F", "F")
	s.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrCacheMiss)
	s.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.ComplianceEvent) error {
		s.Equal(audit.EventAuditPassed, e.Action)
		s.Equal("PASS", e.Decision)
		s.Equal("req-1", e.RequestID)
		s.Equal("admin", e.ActorID)
		return nil
	})

	rep, err := s.service.Audit(s.ctx, ds, s.request())
	s.Require().NoError(err)
	s.True(rep.Passed)
	s.NotEqual(uuid.Nil, rep.ID)
	s.NotEmpty(rep.Fingerprint)
	s.Equal(s.now, rep.CreatedAt)

	stored, err := s.store.FindByID(s.ctx, rep.ID)
	s.Require().NoError(err)
	s.Equal(rep, stored)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Audits.WithLabelValues("pass")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheLookups.WithLabelValues("miss")))
}

func (s *ServiceSuite) TestFailingAuditIsAReport() {
	ds := s.snapshot("F", "F", "F", "I")
	s.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrCacheMiss)
	s.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.ComplianceEvent) error {
		s.Equal(audit.EventAuditFailed, e.Action)
		return nil
	})

	rep, err := s.service.Audit(s.ctx, ds, s.request())
	s.Require().NoError(err)
	s.False(rep.Passed)
	s.Len(rep.Violations, 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Audits.WithLabelValues("fail")))
}

func (s *ServiceSuite) TestCacheHitSkipsStoreAndPublisher() {
	ds := s.snapshot("F", "F", "F")
	cached := &models.AuditReport{ID: uuid.New(), Passed: true}
	s.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(cached, nil)

	rep, err := s.service.Audit(s.ctx, ds, s.request())
	s.Require().NoError(err)
	s.Same(cached, rep)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheLookups.WithLabelValues("hit")))
}

func (s *ServiceSuite) TestCacheKeyIgnoresColumnOrder() {
	ds := s.snapshot("F", "F", "F")
	var keys []string
	s.cache.EXPECT().Get(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, key string) (*models.AuditReport, error) {
		keys = append(keys, key)
		return nil, sentinel.ErrCacheMiss
	}).Times(2)
	s.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	req := s.request()
	_, err := s.service.Audit(s.ctx, ds, req)
	s.Require().NoError(err)
	req.QuasiIdentifiers = []string{"sex", "age"}
	_, err = s.service.Audit(s.ctx, ds, req)
	s.Require().NoError(err)
	s.Require().Len(keys, 2)
	s.Equal(keys[0], keys[1])
}

func (s *ServiceSuite) TestCacheOutageDegradesToFreshAudit() {
	ds := s.snapshot("F", "F", "F")
	s.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrUnavailable)
	s.cache.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(sentinel.ErrUnavailable)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	rep, err := s.service.Audit(s.ctx, ds, s.request())
	s.Require().NoError(err)
	s.True(rep.Passed)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheLookups.WithLabelValues("error")))
}

func (s *ServiceSuite) TestPublisherFailureFailsClosed() {
	ds := s.snapshot("F", "F", "F")
	s.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrCacheMiss)
	s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

	rep, err := s.service.Audit(s.ctx, ds, s.request())
	s.Require().Error(err)
	s.Nil(rep)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestRequestErrors() {
	s.Run("k below two", func() {
		req := s.request()
		req.K = 1
		_, err := s.service.Audit(s.ctx, s.snapshot("F"), req)
		s.True(dErrors.HasCode(err, dErrors.CodeConfig))
	})

	s.Run("missing column", func() {
		s.cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrCacheMiss)
		req := s.request()
		req.QuasiIdentifiers = []string{"bairro"}
		_, err := s.service.Audit(s.ctx, s.snapshot("F"), req)
		s.True(dErrors.HasCode(err, dErrors.CodeSchema))
	})
}

func (s *ServiceSuite) TestGet() {
	rep := &models.AuditReport{ID: uuid.New(), Fingerprint: "fp", CreatedAt: s.now}
	s.Require().NoError(s.store.Save(s.ctx, rep))

	s.Run("found", func() {
		got, err := s.service.Get(s.ctx, rep.ID.String())
		s.Require().NoError(err)
		s.Equal(rep.ID, got.ID)
	})

	s.Run("malformed id", func() {
		_, err := s.service.Get(s.ctx, "not-a-uuid")
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown id", func() {
		_, err := s.service.Get(s.ctx, uuid.NewString())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestStoreFailureIsInternal() {
	store := mocks.NewMockReportStore(s.ctrl)
	svc, err := New(store, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)

	store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	_, err = svc.Audit(s.ctx, s.snapshot("F", "F", "F"), s.request())
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	store.EXPECT().ListByFingerprint(gomock.Any(), "fp").Return(nil, errors.New("timeout"))
	_, err = svc.History(s.ctx, "fp")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestNewRequiresStore() {
	_, err := New(nil)
	s.Error(err)
}

func (s *ServiceSuite) TestReportAndEventShareTheTransaction() {
	runner := mocks.NewMockTxRunner(s.ctrl)
	svc, err := New(s.store,
		WithTxRunner(runner),
		WithAuditPublisher(s.publisher),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	type txMarker struct{}
	s.Run("both writes run inside the runner", func() {
		runner.EXPECT().RunInTx(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, fn func(context.Context) error) error {
				return fn(context.WithValue(ctx, txMarker{}, true))
			})
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ audit.ComplianceEvent) error {
				s.Equal(true, ctx.Value(txMarker{}))
				return nil
			})

		rep, err := svc.Audit(s.ctx, s.snapshot("F", "F", "F"), s.request())
		s.Require().NoError(err)
		s.True(rep.Passed)
	})

	s.Run("commit failure is internal", func() {
		runner.EXPECT().RunInTx(gomock.Any(), gomock.Any()).Return(errors.New("commit failed"))

		rep, err := svc.Audit(s.ctx, s.snapshot("M", "M", "M"), s.request())
		s.Nil(rep)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
