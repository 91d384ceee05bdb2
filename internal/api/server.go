package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryanbastic/go-fieldmap/internal/identity"
	"github.com/ryanbastic/go-fieldmap/internal/metrics"
	"github.com/ryanbastic/go-fieldmap/internal/notify"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
)

// Deps are the collaborators the HTTP server is built from.
type Deps struct {
	Logger      *slog.Logger
	Coordinator *persist.Coordinator
	Plugins     *notify.PluginRegistry
	SessionIdle time.Duration
	Backends    map[string]Pinger
	Breakers    map[string]BreakerReporter
}

// NewServer creates an HTTP server with all routes configured.
// The returned Sessions lets the caller inspect or shut down editing sessions.
func NewServer(d Deps) (http.Handler, *Sessions) {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	idle := d.SessionIdle
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	plugins := d.Plugins
	if plugins == nil {
		plugins = notify.NewPluginRegistry(nil)
	}

	mux := chi.NewRouter()

	mux.Use(RequestID)
	mux.Use(Logging(logger))
	mux.Use(Recovery(logger))
	mux.Use(metrics.HTTP)
	mux.Use(identity.Middleware)

	health := NewHealthHandler(d.Backends, d.Breakers, logger)
	mux.Get("/v1/livez", health.Livez)
	mux.Get("/v1/readyz", health.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	api := humachi.New(mux, huma.DefaultConfig("Fieldmap API", "1.0.0"))

	sessions := NewSessions(d.Coordinator, idle, logger)
	registerSessionRoutes(api, NewSessionHandler(sessions, d.Coordinator, logger))
	registerShapeRoutes(api, NewShapeHandler(d.Coordinator, logger))
	registerCategoryRoutes(api, NewCategoryHandler(d.Coordinator, logger))
	registerMapConfigRoutes(api, NewMapConfigHandler(d.Coordinator, sessions, logger))
	registerPluginRoutes(api, NewPluginHandler(plugins, logger))

	return mux, sessions
}
