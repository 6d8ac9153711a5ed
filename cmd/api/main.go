// Package main provides the entrypoint for the SmogView API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/acquisition"
	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/airquality/gios"
	"github.com/smogview/smogview/internal/api"
	"github.com/smogview/smogview/internal/api/handler"
	"github.com/smogview/smogview/internal/api/middleware"
	"github.com/smogview/smogview/internal/config"
	"github.com/smogview/smogview/internal/provider/resilience"
	"github.com/smogview/smogview/internal/store"
	"github.com/smogview/smogview/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "smogview-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting SmogView API")

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()

	tp, err := telemetry.Init(ctx, cfg.TelemetryConfig(serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.OTELEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	providerMetrics, err := middleware.NewProviderMetrics(gios.ProviderName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	// Open the local cache
	cache, err := store.Open(ctx, cfg.StoreConfig(log))
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open local cache")
	}
	defer cache.Close()
	log.Info().
		Str("backend", cfg.StoreBackend).
		Str("dir", cfg.CacheDir).
		Msg("local cache opened")

	// Initialize the provider client
	registry := resilience.NewRegistry()
	client := gios.NewClient(gios.ClientConfig{
		BaseURL:    cfg.GIOSBaseURL,
		Timeout:    cfg.GIOSTimeout,
		MaxRetries: cfg.GIOSMaxRetries,
		Registry:   registry,
		Location:   cfg.Location,
		Metrics:    providerMetrics,
		Logger:     log,
	})

	service := airquality.NewService(airquality.ServiceConfig{
		Provider: client,
		Cache:    cache.Store,
		Logger:   log,
		CacheTTL: cfg.CacheTTL,
	})
	coordinator := acquisition.NewCoordinator(acquisition.Config{
		Fetcher: client,
		Store:   cache.Store,
		Metrics: providerMetrics,
		Logger:  log,
	})
	log.Info().Str("base_url", cfg.GIOSBaseURL).Msg("air quality service initialized")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Stations:    service,
		Series:      coordinator,
		Location:    cfg.Location,
		Registry:    registry,
		Probes: map[string]handler.ReadinessProbe{
			"local-cache": cache.Ping,
		},
		RequireTLS: cfg.RequireTLS,
		StandardRateLimit: middleware.RateLimitConfig{
			RequestLimit: cfg.RateLimitStandard,
			WindowLength: time.Minute,
		},
		SeriesRateLimit: middleware.RateLimitConfig{
			RequestLimit: cfg.RateLimitSeries,
			WindowLength: time.Minute,
		},
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
