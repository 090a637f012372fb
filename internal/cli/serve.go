package cli

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"kanon/internal/compliance/handler"
	compMetrics "kanon/internal/compliance/metrics"
	compService "kanon/internal/compliance/service"
	"kanon/internal/compliance/store/cache"
	"kanon/internal/compliance/store/report"
	httpapi "kanon/internal/http"
	"kanon/internal/platform/config"
	"kanon/internal/platform/database"
	"kanon/internal/platform/httpserver"
	"kanon/internal/platform/metrics"
	"kanon/internal/platform/redis"
	ratelimit "kanon/internal/ratelimit/middleware"
	rlmodels "kanon/internal/ratelimit/models"
	"kanon/internal/ratelimit/store/bucket"
	dErrors "kanon/pkg/domain-errors"
	audit "kanon/pkg/platform/audit"
	"kanon/pkg/platform/audit/kafka"
	compliancePublisher "kanon/pkg/platform/audit/publishers/compliance"
	auditmemory "kanon/pkg/platform/audit/store/memory"
	auditpostgres "kanon/pkg/platform/audit/store/postgres"
	txcontext "kanon/pkg/platform/tx"
)

// materializerGroup is the consumer group that copies audit events from
// Kafka into PostgreSQL.
const materializerGroup = "kanon-audit-materializer"

func runServe(ctx context.Context, args []string, env Env) error {
	cfg := config.FromEnv()
	fs := newFlagSet("serve", env)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.ProfilePath, "profile", cfg.ProfilePath, "audit profile (YAML), reloaded on change")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(env, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return err
	}
	codec, err := profile.Codec()
	if err != nil {
		return err
	}
	live := config.NewLiveProfile(profile)

	reg := metrics.NewRegistry()
	checks := map[string]httpapi.HealthCheck{}
	g, gctx := errgroup.WithContext(ctx)

	opts := []compService.Option{
		compService.WithLogger(logger),
		compService.WithCodec(codec),
		compService.WithMetrics(compMetrics.New(reg)),
	}

	var (
		store compService.ReportStore = report.NewInMemoryStore()
		db    *sql.DB
	)
	if cfg.Database.URL != "" {
		db, err = database.Open(ctx, database.Config{Driver: cfg.Database.Driver, URL: cfg.Database.URL})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "open database")
		}
		defer db.Close()
		if err := database.Migrate(ctx, db, cfg.Database.Driver); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "migrate database")
		}
		checks["database"] = func(ctx context.Context) error { return database.Health(ctx, db) }
		if cfg.Database.Driver == database.DriverSQLite {
			store = report.NewSQLite(db)
		} else {
			store = report.NewPostgres(db)
			opts = append(opts, compService.WithTxRunner(txcontext.NewRunner(db)))
		}
	}
	postgres := db != nil && cfg.Database.Driver == database.DriverPostgres

	events, reader, err := auditStore(gctx, g, cfg, db, postgres, logger)
	if err != nil {
		return err
	}
	opts = append(opts, compService.WithAuditPublisher(compliancePublisher.New(events,
		compliancePublisher.WithLogger(logger),
		compliancePublisher.WithMetrics(compliancePublisher.NewMetrics(reg)),
	)))

	var limitStore ratelimit.Store = bucket.NewInMemoryBucketStore()
	if cfg.Redis.URL != "" {
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "connect redis")
		}
		defer client.Close()
		checks["redis"] = client.Health
		opts = append(opts, compService.WithCache(cache.NewRedis(client.Client, cache.WithTTL(cfg.Redis.TTL))))
		limitStore = bucket.NewRedisBucketStore(client.Client)
	}
	limiter := ratelimit.New(limitStore, rlmodels.Limit{Requests: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window}, logger)

	svc, err := compService.New(store, opts...)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build compliance service")
	}
	router := httpapi.NewRouter(logger, metrics.New(reg), prometheus.Gatherer(reg), checks,
		handler.New(svc, live, cfg.AdminToken, logger, handlerOpts(reader, limiter)...),
	)

	g.Go(func() error {
		return httpserver.Run(gctx, httpserver.New(cfg.Addr, router), logger)
	})
	g.Go(func() error {
		return config.Watch(gctx, cfg.ProfilePath, logger, live.Set)
	})
	if err := g.Wait(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "serve")
	}
	return nil
}

func handlerOpts(reader handler.EventReader, limiter *ratelimit.Middleware) []handler.Option {
	opts := []handler.Option{handler.WithRateLimit(limiter.Limit("audit"))}
	if reader != nil {
		opts = append(opts, handler.WithEventReader(reader))
	}
	return opts
}

// auditStore chooses where compliance events go: Kafka when brokers are
// configured (materialized into PostgreSQL when available), else PostgreSQL,
// else memory. The reader is nil when events are only on Kafka.
func auditStore(ctx context.Context, g *errgroup.Group, cfg config.Server, db *sql.DB, postgres bool, logger *slog.Logger) (audit.Store, handler.EventReader, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		if postgres {
			pg := auditpostgres.New(db)
			return pg, pg, nil
		}
		mem := auditmemory.NewInMemoryStore()
		return mem, mem, nil
	}

	sink, err := kafka.NewSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, kafka.WithLogger(logger))
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeConfig, "create audit sink")
	}
	if err := sink.EnsureTopic(ctx, 1, 1); err != nil {
		logger.WarnContext(ctx, "audit topic bootstrap failed", "topic", cfg.Kafka.Topic, "error", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		return sink.Close()
	})
	if !postgres {
		return sink, nil, nil
	}
	pg := auditpostgres.New(db)
	m, err := kafka.NewMaterializer(cfg.Kafka.Brokers, cfg.Kafka.Topic, materializerGroup, pg, logger)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeConfig, "create audit materializer")
	}
	g.Go(func() error {
		if err := m.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	return sink, pg, nil
}
