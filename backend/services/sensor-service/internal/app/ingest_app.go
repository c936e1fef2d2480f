package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"buildingsense/backend/libs/db"
	libredis "buildingsense/backend/libs/redis"
	"buildingsense/backend/services/sensor-service/internal/config"
	httpserver "buildingsense/backend/services/sensor-service/internal/http"
	"buildingsense/backend/services/sensor-service/internal/http/handlers"
	"buildingsense/backend/services/sensor-service/internal/lease"
	"buildingsense/backend/services/sensor-service/internal/metrics"
	"buildingsense/backend/services/sensor-service/internal/models"
	"buildingsense/backend/services/sensor-service/internal/repository"
	"buildingsense/backend/services/sensor-service/internal/service"
	"buildingsense/backend/services/sensor-service/internal/source"
)

// Mode selects what an ingest invocation does.
type Mode int

const (
	ModeNone Mode = iota
	ModeRecent
	ModeAll
	ModeFrom
	ModeWatch
)

// Job is one sensor-ingest invocation.
type Job struct {
	Mode        Mode
	FromMS      int64
	SyncCatalog bool
}

// IngestApp wires the ingestion pipeline: store, source client, optional writer lease and an
// optional health/metrics listener.
type IngestApp struct {
	cfg    *config.Config
	db     *sqlx.DB
	redis  *redis.Client
	lease  *lease.Lease
	ingest *service.IngestService
	server *httpserver.Server
	logger *zap.Logger
}

// NewIngest opens the store, applies the schema and builds the ingestion service.
func NewIngest(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*IngestApp, error) {
	sel, err := models.ParseSelector(cfg.Ingest.Sensors)
	if err != nil {
		return nil, fmt.Errorf("ingest sensors: %w", err)
	}
	creds, err := source.ResolveCredentials(cfg.Source.Username, cfg.Source.Password, cfg.Source.CredentialsFile)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a := &IngestApp{cfg: cfg, db: sqlDB, logger: logger}

	if err := repository.Migrate(ctx, sqlDB); err != nil {
		a.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client := source.NewBeringarClient(cfg.Source.BaseURL, creds, cfg.Source.BuildingNumber,
		source.NewDefaultHTTPClient(cfg.HTTPTimeout()), logger)
	a.ingest = service.NewIngestService(client,
		repository.NewReadingRepository(sqlDB),
		repository.NewCatalogRepository(sqlDB),
		m, logger,
		service.IngestOptions{
			Window:               cfg.WindowSize(),
			Sensors:              sel,
			StopAtFirstDuplicate: cfg.Ingest.StopAtFirstDuplicate,
		})

	if cfg.LeaseEnabled() {
		rdb, err := libredis.NewRedisClient(cfg.Lease.RedisAddr, cfg.Lease.RedisPassword, cfg.Lease.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rdb
		a.lease = lease.New(rdb, cfg.Lease.Key, cfg.LeaseTTL())
	}

	if addr := cfg.MetricsAddress(); addr != "" {
		router := httpserver.NewRouter(httpserver.Routes{
			Health:  handlers.NewHealthHandler(sqlDB),
			Metrics: m.Handler(),
		}, nil, m)
		a.server = httpserver.NewServer(addr, router, logger, httpserver.StandardMiddlewares(logger, nil)...)
	}

	return a, nil
}

// Run executes job under the writer lease when one is configured.
func (a *IngestApp) Run(ctx context.Context, job Job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.server != nil {
		serverErr := make(chan error, 1)
		go func() { serverErr <- a.server.Run(ctx) }()
		defer func() {
			cancel()
			if err := <-serverErr; err != nil {
				a.logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	if a.lease == nil {
		return a.run(ctx, job)
	}

	if err := a.lease.Acquire(ctx); err != nil {
		return err
	}
	a.logger.Info("writer lease acquired", zap.String("owner", a.lease.Token()))
	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		if err := a.lease.Release(releaseCtx); err != nil {
			a.logger.Warn("failed to release writer lease", zap.Error(err))
		}
	}()

	lost := make(chan error, 1)
	go func() {
		if err := a.lease.KeepAlive(ctx); err != nil {
			lost <- err
			cancel()
		}
	}()

	err := a.run(ctx, job)
	select {
	case leaseErr := <-lost:
		return fmt.Errorf("%w: %w", models.ErrRetryable, leaseErr)
	default:
	}
	return err
}

func (a *IngestApp) run(ctx context.Context, job Job) error {
	if job.SyncCatalog {
		if _, err := a.ingest.SyncCatalog(ctx); err != nil {
			return err
		}
	}

	var err error
	switch job.Mode {
	case ModeNone:
	case ModeRecent:
		_, err = a.ingest.IngestLatest(ctx)
	case ModeAll:
		_, err = a.ingest.IngestAll(ctx)
	case ModeFrom:
		_, err = a.ingest.IngestFrom(ctx, job.FromMS)
	case ModeWatch:
		err = a.ingest.Watch(ctx, a.cfg.PollInterval())
	default:
		err = fmt.Errorf("unknown ingest mode %d", job.Mode)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases acquired resources.
func (a *IngestApp) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
