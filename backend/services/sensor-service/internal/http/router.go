package httpserver

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"buildingsense/backend/services/sensor-service/internal/metrics"
)

// Routes collects handlers. Nil handlers are not mounted.
type Routes struct {
	Health    http.HandlerFunc
	Metrics   http.Handler
	Token     http.HandlerFunc
	Rooms     http.HandlerFunc
	Sensors   http.HandlerFunc
	Readings  http.HandlerFunc
	Aggregate http.HandlerFunc
	Chart     http.HandlerFunc

	// Managed-space routes, mounted only when the source is configured.
	Spaces        http.HandlerFunc
	SpaceLatest   http.HandlerFunc
	SpaceReadings http.HandlerFunc
	SpaceChart    http.HandlerFunc
}

// NewRouter wires HTTP routes. Everything under /api/v1 except the token endpoint goes
// through authMiddleware.
func NewRouter(routes Routes, authMiddleware func(http.Handler) http.Handler, m *metrics.Metrics) *mux.Router {
	r := mux.NewRouter()

	mount := func(router *mux.Router, path, method, name string, h http.Handler) {
		if h == nil {
			return
		}
		router.Handle(path, m.WrapHandler(name, h)).Methods(method)
	}
	handlerOf := func(h http.HandlerFunc) http.Handler {
		if h == nil {
			return nil
		}
		return h
	}

	mount(r, "/health", http.MethodGet, "health", handlerOf(routes.Health))
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	mount(api, "/auth/token", http.MethodPost, "token", handlerOf(routes.Token))

	protected := api.NewRoute().Subrouter()
	if authMiddleware != nil {
		protected.Use(mux.MiddlewareFunc(authMiddleware))
	}
	mount(protected, "/rooms", http.MethodGet, "rooms", handlerOf(routes.Rooms))
	mount(protected, "/sensors", http.MethodGet, "sensors", handlerOf(routes.Sensors))
	mount(protected, "/readings", http.MethodGet, "readings", handlerOf(routes.Readings))
	mount(protected, "/rooms/{room:[0-9]+}/aggregate", http.MethodGet, "aggregate", handlerOf(routes.Aggregate))
	mount(protected, "/rooms/{room:[0-9]+}/chart", http.MethodGet, "chart", handlerOf(routes.Chart))
	mount(protected, "/spaces", http.MethodGet, "spaces", handlerOf(routes.Spaces))
	mount(protected, "/spaces/latest", http.MethodGet, "space_latest", handlerOf(routes.SpaceLatest))
	mount(protected, "/spaces/chart", http.MethodGet, "space_chart", handlerOf(routes.SpaceChart))
	mount(protected, "/spaces/{space:[0-9]+}/readings", http.MethodGet, "space_readings", handlerOf(routes.SpaceReadings))

	return r
}

// StandardMiddlewares returns recovery, CORS and compression, outermost first.
func StandardMiddlewares(logger *zap.Logger, allowedOrigins []string) []func(http.Handler) http.Handler {
	out := []func(http.Handler) http.Handler{
		handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(logger)), handlers.PrintRecoveryStack(false)),
	}
	if len(allowedOrigins) > 0 {
		out = append(out, handlers.CORS(
			handlers.AllowedOrigins(allowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		))
	}
	return append(out, handlers.CompressHandler)
}
