// Package main provides the entrypoint for the SmogView cache refresh worker.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/acquisition"
	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/airquality/gios"
	"github.com/smogview/smogview/internal/api/middleware"
	"github.com/smogview/smogview/internal/config"
	"github.com/smogview/smogview/internal/provider/resilience"
	"github.com/smogview/smogview/internal/store"
	"github.com/smogview/smogview/internal/telemetry"
	"github.com/smogview/smogview/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// workerMaxRetries is the retry floor for background refreshes, which are
// not waited on by anyone.
const workerMaxRetries = 3

func main() {
	const serviceName = "smogview-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting SmogView worker")

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, cfg.TelemetryConfig(serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	providerMetrics, err := middleware.NewProviderMetrics(gios.ProviderName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	cache, err := store.Open(ctx, cfg.StoreConfig(log))
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open local cache")
	}
	defer cache.Close()

	retries := cfg.GIOSMaxRetries
	if retries < workerMaxRetries {
		retries = workerMaxRetries
	}
	client := gios.NewClient(gios.ClientConfig{
		BaseURL:    cfg.GIOSBaseURL,
		Timeout:    cfg.GIOSTimeout,
		MaxRetries: retries,
		Registry:   resilience.NewRegistry(),
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

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:   cfg.RefreshConfig(),
		Logger:   log,
		Catalog:  service,
		Acquirer: coordinator,
	})

	scheduler := worker.NewScheduler(job, cfg.RefreshInterval, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer scheduler.Stop()

	// Optional on-demand trigger
	if cfg.PubSubProjectID != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSubProjectID,
			SubscriptionName: cfg.PubSubSubscription,
			RefreshJob:       job,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer func() {
			if err := handler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		go func() {
			if err := handler.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	}

	// Worker also exposes a health endpoint for Cloud Run
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{
			"status":  "healthy",
			"version": Version,
			"refresh": job.MetricsSnapshot(),
		}
		if err := cache.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["error"] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error().Err(err).Msg("failed to encode health response")
		}
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	log.Info().
		Dur("interval", cfg.RefreshInterval).
		Int("targets", len(cfg.RefreshTargets)).
		Msg("worker started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
