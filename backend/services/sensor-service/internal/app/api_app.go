package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"buildingsense/backend/libs/db"
	"buildingsense/backend/services/sensor-service/internal/config"
	httpserver "buildingsense/backend/services/sensor-service/internal/http"
	"buildingsense/backend/services/sensor-service/internal/http/handlers"
	"buildingsense/backend/services/sensor-service/internal/http/middleware"
	"buildingsense/backend/services/sensor-service/internal/metrics"
	"buildingsense/backend/services/sensor-service/internal/password"
	"buildingsense/backend/services/sensor-service/internal/repository"
	"buildingsense/backend/services/sensor-service/internal/service"
	"buildingsense/backend/services/sensor-service/internal/source"
)

// APIApp wires the read-only HTTP API.
type APIApp struct {
	server *httpserver.Server
	db     *sqlx.DB
	logger *zap.Logger
}

// NewAPI builds application graph.
func NewAPI(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*APIApp, error) {
	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}

	hasher := password.NewBcryptHasher(0)
	cost, err := hasher.CheckHash(cfg.Viewer.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("config: viewer password hash: %w", err)
	}
	if hasher.Weak(cost) {
		logger.Warn("viewer password hash uses a low bcrypt cost", zap.Int("cost", cost))
	}

	sqlDB, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	query := service.NewQueryService(repository.NewReadingRepository(sqlDB), repository.NewCatalogRepository(sqlDB), logger)
	tokens := service.NewTokenService(cfg.JWT.Secret, cfg.JWTExpiration())
	viewer := service.NewViewerService(cfg.Viewer.Username, cfg.Viewer.PasswordHash, hasher, tokens, logger)
	qh := handlers.NewQueryHandlers(query, logger)

	routes := httpserver.Routes{
		Health:    handlers.NewHealthHandler(sqlDB),
		Metrics:   m.Handler(),
		Token:     handlers.NewTokenHandler(viewer, logger),
		Rooms:     qh.Rooms,
		Sensors:   qh.Sensors,
		Readings:  qh.Readings,
		Aggregate: qh.Aggregate,
		Chart:     qh.Chart,
	}
	if spaces := newSpaceHandlers(cfg, m, logger); spaces != nil {
		routes.Spaces = spaces.Spaces
		routes.SpaceLatest = spaces.Latest
		routes.SpaceReadings = spaces.Readings
		routes.SpaceChart = spaces.Chart
	}

	router := httpserver.NewRouter(routes, middleware.AuthMiddleware(tokens), m)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger,
		httpserver.StandardMiddlewares(logger, cfg.HTTP.CORSOrigins)...)

	return &APIApp{
		server: server,
		db:     sqlDB,
		logger: logger,
	}, nil
}

// newSpaceHandlers builds the live managed-space endpoints. They need source credentials,
// which the read API can run without; nil leaves the routes unmounted.
func newSpaceHandlers(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *handlers.SpaceHandlers {
	if cfg.Source.BaseURL == "" {
		return nil
	}
	creds, err := source.ResolveCredentials(cfg.Source.Username, cfg.Source.Password, cfg.Source.CredentialsFile)
	if err != nil {
		logger.Info("managed space routes disabled", zap.Error(err))
		return nil
	}
	client := source.NewBeringarClient(cfg.Source.BaseURL, creds, cfg.Source.BuildingNumber,
		source.NewDefaultHTTPClient(cfg.HTTPTimeout()), logger)
	return handlers.NewSpaceHandlers(service.NewSpaceService(client, m, logger), logger)
}

// Run starts serving HTTP traffic until context cancellation.
func (a *APIApp) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases acquired resources.
func (a *APIApp) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
