// Package config loads SmogView settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/airquality/gios"
	"github.com/smogview/smogview/internal/database"
	"github.com/smogview/smogview/internal/store"
	"github.com/smogview/smogview/internal/telemetry"
	"github.com/smogview/smogview/internal/worker"
)

// Store backends.
const (
	StoreJSON     = store.BackendJSON
	StoreMemory   = store.BackendMemory
	StorePostgres = store.BackendPostgres
)

var validate = validator.New()

// Config holds the settings shared by the SmogView commands.
type Config struct {
	Port       string `validate:"required,numeric"`
	Env        string `validate:"required"`
	RequireTLS bool

	// Requests per client and minute. Zero keeps the router defaults.
	RateLimitStandard int `validate:"gte=0"`
	RateLimitSeries   int `validate:"gte=0"`

	// GIOŚ provider.
	GIOSBaseURL    string         `validate:"required,url"`
	GIOSTimeZone   string         `validate:"required"`
	GIOSTimeout    time.Duration  `validate:"gt=0"`
	GIOSMaxRetries uint64         `validate:"lte=10"`
	Location       *time.Location `validate:"-"`

	// Local cache.
	StoreBackend string          `validate:"oneof=json memory postgres"`
	CacheDir     string          `validate:"required_if=StoreBackend json"`
	CacheTTL     time.Duration   `validate:"gte=0"`
	Database     database.Config `validate:"-"`

	// Telemetry.
	OTELEnabled     bool
	OTLPEndpoint    string `validate:"required_if=OTELEnabled true"`
	OTLPInsecure    bool
	OTELSampleRatio float64 `validate:"gte=0,lte=1"`

	// Cache refresh worker.
	RefreshInterval    time.Duration `validate:"gt=0"`
	RefreshWindow      time.Duration `validate:"gt=0"`
	RefreshConcurrency int           `validate:"gte=1,lte=32"`
	RefreshTargets     []worker.RefreshTarget

	// Pub/Sub trigger, disabled when ProjectID is empty.
	PubSubProjectID    string
	PubSubSubscription string `validate:"required_with=PubSubProjectID"`
}

// Load reads an optional .env file and then the environment.
func Load(logger zerolog.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("no .env file loaded")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables, applying defaults, and
// validates it.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:               getEnvOrDefault("APP_PORT", "8080"),
		Env:                getEnvOrDefault("APP_ENV", "development"),
		GIOSBaseURL:        getEnvOrDefault("GIOS_BASE_URL", gios.DefaultBaseURL),
		GIOSTimeZone:       getEnvOrDefault("GIOS_TIMEZONE", gios.DefaultTimeZone),
		StoreBackend:       getEnvOrDefault("STORE_BACKEND", StoreJSON),
		CacheDir:           getEnvOrDefault("CACHE_DIR", "cache"),
		RequireTLS:         os.Getenv("REQUIRE_TLS") == "true",
		OTELEnabled:        os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:       getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:       getEnvOrDefault("OTEL_EXPORTER_OTLP_INSECURE", "true") == "true",
		PubSubProjectID:    os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubSubscription: os.Getenv("PUBSUB_SUBSCRIPTION"),
		Database:           database.ConfigFromEnv(),
	}

	var err error
	if cfg.GIOSTimeout, err = durationEnv("GIOS_TIMEOUT", "10s"); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL", "5m"); err != nil {
		return Config{}, err
	}
	if cfg.RefreshInterval, err = durationEnv("REFRESH_INTERVAL", "15m"); err != nil {
		return Config{}, err
	}
	if cfg.RefreshWindow, err = durationEnv("REFRESH_WINDOW", "24h"); err != nil {
		return Config{}, err
	}

	if cfg.RateLimitStandard, err = strconv.Atoi(getEnvOrDefault("RATE_LIMIT_STANDARD", "0")); err != nil {
		return Config{}, fmt.Errorf("invalid RATE_LIMIT_STANDARD: %w", err)
	}
	if cfg.RateLimitSeries, err = strconv.Atoi(getEnvOrDefault("RATE_LIMIT_SERIES", "0")); err != nil {
		return Config{}, fmt.Errorf("invalid RATE_LIMIT_SERIES: %w", err)
	}

	if cfg.OTELSampleRatio, err = strconv.ParseFloat(getEnvOrDefault("OTEL_SAMPLE_RATIO", "1"), 64); err != nil {
		return Config{}, fmt.Errorf("invalid OTEL_SAMPLE_RATIO: %w", err)
	}

	retries, err := strconv.ParseUint(getEnvOrDefault("GIOS_MAX_RETRIES", "0"), 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid GIOS_MAX_RETRIES: %w", err)
	}
	cfg.GIOSMaxRetries = retries

	if cfg.RefreshConcurrency, err = strconv.Atoi(getEnvOrDefault("REFRESH_CONCURRENCY", "3")); err != nil {
		return Config{}, fmt.Errorf("invalid REFRESH_CONCURRENCY: %w", err)
	}

	if cfg.RefreshTargets, err = worker.ParseTargets(os.Getenv("REFRESH_TARGETS")); err != nil {
		return Config{}, fmt.Errorf("invalid REFRESH_TARGETS: %w", err)
	}

	if cfg.Location, err = time.LoadLocation(cfg.GIOSTimeZone); err != nil {
		return Config{}, fmt.Errorf("invalid GIOS_TIMEZONE: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// RefreshConfig returns the worker refresh settings.
func (c Config) RefreshConfig() worker.RefreshConfig {
	rc := worker.DefaultRefreshConfig()
	rc.Targets = c.RefreshTargets
	rc.Concurrency = c.RefreshConcurrency
	rc.Window = c.RefreshWindow
	return rc
}

// TelemetryConfig returns the OpenTelemetry settings for a command.
func (c Config) TelemetryConfig(serviceName, version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    c.Env,
		OTLPEndpoint:   c.OTLPEndpoint,
		Enabled:        c.OTELEnabled,
		Insecure:       c.OTLPInsecure,
		SampleRatio:    c.OTELSampleRatio,
	}
}

// StoreConfig returns the settings for opening the local cache.
func (c Config) StoreConfig(logger zerolog.Logger) store.OpenConfig {
	return store.OpenConfig{
		Backend:  c.StoreBackend,
		Dir:      c.CacheDir,
		Location: c.Location,
		Database: c.Database,
		Logger:   logger,
	}
}

func durationEnv(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnvOrDefault(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
