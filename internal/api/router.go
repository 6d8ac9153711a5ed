// Package api provides the HTTP API for SmogView.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/api/handler"
	"github.com/smogview/smogview/internal/api/middleware"
	"github.com/smogview/smogview/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Stations serves station and sensor reference data.
	Stations handler.StationService

	// Series serves measurement series.
	Series handler.SeriesAcquirer

	// Location is the zone query times without an offset are read in.
	Location *time.Location

	// Registry reports provider health on /v1/ops/status.
	Registry *resilience.Registry

	// Probes are readiness checks, keyed by subsystem name.
	Probes map[string]handler.ReadinessProbe

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool

	// Per-client budgets. Zero values use middleware.StandardRateLimit and
	// middleware.SeriesRateLimit.
	StandardRateLimit middleware.RateLimitConfig
	SeriesRateLimit   middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "smogview-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers
	r.Use(middleware.PublicCORS)           // Cross-origin reads for dashboards
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry, cfg.Probes)
	aqHandler := handler.NewAirQualityHandler(cfg.Stations, cfg.Series, cfg.Location, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(cfg.StandardRateLimit.OrDefault(middleware.StandardRateLimit))
	seriesRateLimit := middleware.RateLimitByIPAndEndpoint(cfg.SeriesRateLimit.OrDefault(middleware.SeriesRateLimit))

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Station reference data
		r.Route("/stations", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", aqHandler.ListStations)
			r.Route("/{stationId}", func(r chi.Router) {
				r.Get("/index", aqHandler.GetIndex)
				r.Get("/sensors", aqHandler.ListSensors)
				r.With(seriesRateLimit).Get("/sensors/{sensorId}/measurements", aqHandler.GetMeasurements)
			})
		})

		r.With(standardRateLimit).Get("/sensors/{sensorId}/latest", aqHandler.GetLatestValue)
	})

	return r
}
