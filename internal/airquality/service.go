package airquality

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Source tells whether data came from the provider or the local cache.
type Source string

const (
	SourceLive  Source = "LIVE"
	SourceCache Source = "CACHE"
)

// Provider defines the interface for air quality data providers.
type Provider interface {
	// FetchStations fetches all stations.
	FetchStations(ctx context.Context) ([]Station, error)

	// FetchSensors fetches the sensors of a station.
	FetchSensors(ctx context.Context, stationID int) ([]Sensor, error)

	// FetchIndex fetches the current index of a station.
	FetchIndex(ctx context.Context, stationID int) (*IndexInfo, error)

	// FetchLatestValue fetches the most recent reading of a sensor.
	FetchLatestValue(ctx context.Context, sensorID int) (*LatestValue, error)
}

// Cache is the persistent reference data cache the service falls back to.
type Cache interface {
	MergeStations(ctx context.Context, stations []Station)
	MergeSensors(ctx context.Context, stationID int, sensors []Sensor)
	LoadStations(ctx context.Context) []Station
	LoadSensors(ctx context.Context, stationID int) []Sensor
}

// ServiceConfig holds configuration for the air quality service.
type ServiceConfig struct {
	// Provider is the air quality data provider.
	Provider Provider

	// Cache receives every fetched list and serves them when the provider
	// is unavailable.
	Cache Cache

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long a fetched list is served from memory before the
	// provider is asked again (default: 5 minutes).
	CacheTTL time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service provides station and sensor lists with write-through caching and
// fallback to the local cache.
type Service struct {
	provider Provider
	cache    Cache
	logger   zerolog.Logger
	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	stations *listEntry[Station]
	sensors  map[int]*listEntry[Sensor]
}

type listEntry[T any] struct {
	items     []T
	fetchedAt time.Time
	expiresAt time.Time
}

// NewService creates a new air quality service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		provider: cfg.Provider,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		cacheTTL: cacheTTL,
		now:      now,
		sensors:  make(map[int]*listEntry[Sensor]),
	}
}

// Stations returns all stations. A successful fetch is merged into the cache;
// on provider failure the cached list is returned with SourceCache. If the
// cache is empty too, ErrCacheMiss is returned.
func (s *Service) Stations(ctx context.Context) ([]Station, Source, error) {
	s.mu.RLock()
	if e := s.stations; e != nil && s.now().Before(e.expiresAt) {
		s.mu.RUnlock()
		return slices.Clone(e.items), SourceLive, nil
	}
	s.mu.RUnlock()

	return s.refreshStations(ctx)
}

// Sensors returns the sensors of a station with the same policy as Stations.
func (s *Service) Sensors(ctx context.Context, stationID int) ([]Sensor, Source, error) {
	s.mu.RLock()
	if e := s.sensors[stationID]; e != nil && s.now().Before(e.expiresAt) {
		s.mu.RUnlock()
		return slices.Clone(e.items), SourceLive, nil
	}
	s.mu.RUnlock()

	return s.refreshSensors(ctx, stationID)
}

// Index returns the current index of a station. There is no fallback.
func (s *Service) Index(ctx context.Context, stationID int) (*IndexInfo, error) {
	info, err := s.provider.FetchIndex(ctx, stationID)
	if err != nil {
		return nil, fmt.Errorf("index of station %d: %w", stationID, err)
	}
	return info, nil
}

// LatestValue returns the latest non-null reading of a sensor. There is no
// fallback.
func (s *Service) LatestValue(ctx context.Context, sensorID int) (*LatestValue, error) {
	v, err := s.provider.FetchLatestValue(ctx, sensorID)
	if err != nil {
		return nil, fmt.Errorf("latest value of sensor %d: %w", sensorID, err)
	}
	return v, nil
}

// RefreshStations forces a station list fetch.
func (s *Service) RefreshStations(ctx context.Context) ([]Station, Source, error) {
	return s.refreshStations(ctx)
}

// RefreshSensors forces a sensor list fetch for a station.
func (s *Service) RefreshSensors(ctx context.Context, stationID int) ([]Sensor, Source, error) {
	return s.refreshSensors(ctx, stationID)
}

// InvalidateCache drops the in-memory lists. The persistent cache is kept.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations = nil
	s.sensors = make(map[int]*listEntry[Sensor])
}

// CacheStatus represents the current state of the in-memory lists.
type CacheStatus struct {
	HasStations  bool
	StationCount int
	FetchedAt    time.Time
	ExpiresAt    time.Time
	IsExpired    bool
	SensorLists  int
}

// CacheStatus returns information about the in-memory station list.
func (s *Service) CacheStatus() CacheStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := CacheStatus{SensorLists: len(s.sensors)}
	if s.stations == nil {
		return status
	}

	status.HasStations = true
	status.StationCount = len(s.stations.items)
	status.FetchedAt = s.stations.fetchedAt
	status.ExpiresAt = s.stations.expiresAt
	status.IsExpired = s.now().After(s.stations.expiresAt)
	return status
}

func (s *Service) refreshStations(ctx context.Context) ([]Station, Source, error) {
	s.logger.Debug().Msg("refreshing station list")

	stations, err := s.provider.FetchStations(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to fetch stations, using cached data")

		cached := s.cache.LoadStations(ctx)
		if len(cached) == 0 {
			return nil, "", fmt.Errorf("stations: %w", ErrCacheMiss)
		}
		return cached, SourceCache, nil
	}

	s.cache.MergeStations(ctx, stations)

	s.mu.Lock()
	now := s.now()
	s.stations = &listEntry[Station]{items: slices.Clone(stations), fetchedAt: now, expiresAt: now.Add(s.cacheTTL)}
	s.mu.Unlock()

	s.logger.Info().Int("stations", len(stations)).Msg("station list refreshed")
	return stations, SourceLive, nil
}

func (s *Service) refreshSensors(ctx context.Context, stationID int) ([]Sensor, Source, error) {
	sensors, err := s.provider.FetchSensors(ctx, stationID)
	if err != nil {
		s.logger.Warn().Err(err).Int("station_id", stationID).Msg("failed to fetch sensors, using cached data")

		cached := s.cache.LoadSensors(ctx, stationID)
		if len(cached) == 0 {
			return nil, "", fmt.Errorf("sensors of station %d: %w", stationID, ErrCacheMiss)
		}
		return cached, SourceCache, nil
	}

	s.cache.MergeSensors(ctx, stationID, sensors)

	s.mu.Lock()
	now := s.now()
	s.sensors[stationID] = &listEntry[Sensor]{items: slices.Clone(sensors), fetchedAt: now, expiresAt: now.Add(s.cacheTTL)}
	s.mu.Unlock()

	s.logger.Debug().
		Int("station_id", stationID).
		Int("sensors", len(sensors)).
		Msg("sensor list refreshed")
	return sensors, SourceLive, nil
}
