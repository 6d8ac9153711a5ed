package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/acquisition"
	"github.com/smogview/smogview/internal/airquality"
)

// Catalog refreshes reference data, writing it through to the cache.
type Catalog interface {
	RefreshStations(ctx context.Context) ([]airquality.Station, airquality.Source, error)
	RefreshSensors(ctx context.Context, stationID int) ([]airquality.Sensor, airquality.Source, error)
}

// Acquirer fetches measurement series, writing them through to the cache.
type Acquirer interface {
	Acquire(ctx context.Context, req acquisition.Request) (*acquisition.Result, error)
}

// errServedFromCache marks a refresh the provider could not serve.
var errServedFromCache = errors.New("provider unavailable, served from cache")

// RefreshJob keeps the local cache warm.
type RefreshJob struct {
	config RefreshConfig
	logger zerolog.Logger
	now    func() time.Time

	// Services (optional, nil if not configured)
	catalog  Catalog
	acquirer Acquirer

	// Metrics
	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRefreshes    int64
	SuccessfulRefresh int64
	FailedRefreshes   int64
	StationRefresh    int64
	SensorRefresh     int64
	SeriesRefresh     int64

	// Timings
	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration

	// Cache stats
	CacheHits   int64
	CacheMisses int64
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config   RefreshConfig
	Logger   zerolog.Logger
	Catalog  Catalog
	Acquirer Acquirer

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// NewRefreshJob creates a new refresh job processor.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &RefreshJob{
		config:   cfg.Config.withDefaults(),
		logger:   cfg.Logger,
		now:      now,
		catalog:  cfg.Catalog,
		acquirer: cfg.Acquirer,
		metrics:  &RefreshMetrics{},
	}
}

// RefreshResult contains the result of a refresh operation.
type RefreshResult struct {
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	TotalTargets int
	Successful   int
	Failed       int
	Errors       []RefreshError
	CacheHits    int
	CacheMisses  int
}

// RefreshError represents an error during refresh.
type RefreshError struct {
	Unit      string
	StationID int
	SensorID  int
	Error     string
}

// Run refreshes the station list and then every configured target.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	startTime := j.now()
	targets := j.config.OrderedTargets()
	result := &RefreshResult{
		StartTime:    startTime,
		TotalTargets: len(targets),
	}

	j.logger.Info().
		Int("total_targets", result.TotalTargets).
		Int("concurrency", j.config.Concurrency).
		Msg("starting cache refresh job")

	if err := j.RefreshStations(ctx); err != nil {
		result.Errors = append(result.Errors, RefreshError{Unit: "stations", Error: err.Error()})
		if errors.Is(err, errServedFromCache) {
			result.CacheHits++
		}
	}

	// Create work channels
	targetsChan := make(chan RefreshTarget, len(targets))
	resultsChan := make(chan targetResult, len(targets))

	// Start workers
	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.refreshWorker(ctx, targetsChan, resultsChan)
		}()
	}

	for _, t := range targets {
		targetsChan <- t
	}
	close(targetsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	// Collect results
	for tr := range resultsChan {
		if tr.success {
			result.Successful++
		} else {
			result.Failed++
		}
		result.CacheHits += tr.cacheHits
		result.CacheMisses += tr.cacheMisses
		result.Errors = append(result.Errors, tr.errors...)
	}

	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("cache_hits", result.CacheHits).
		Int("cache_misses", result.CacheMisses).
		Msg("cache refresh job completed")

	return result
}

// RefreshStations refreshes the station list. A list served from the cache
// counts as a failure.
func (j *RefreshJob) RefreshStations(ctx context.Context) error {
	if !j.config.RefreshStations || j.catalog == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stations, source, err := j.catalog.RefreshStations(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to refresh stations")
		return err
	}
	if source == airquality.SourceCache {
		return errServedFromCache
	}

	j.metrics.mu.Lock()
	j.metrics.StationRefresh++
	j.metrics.mu.Unlock()

	j.logger.Debug().Int("stations", len(stations)).Msg("stations refreshed")
	return nil
}

type targetResult struct {
	target      RefreshTarget
	success     bool
	cacheHits   int
	cacheMisses int
	errors      []RefreshError
}

func (j *RefreshJob) refreshWorker(ctx context.Context, targets <-chan RefreshTarget, results chan<- targetResult) {
	for target := range targets {
		select {
		case <-ctx.Done():
			results <- targetResult{
				target: target,
				errors: []RefreshError{{Unit: "station", StationID: target.StationID, Error: ctx.Err().Error()}},
			}
		default:
			results <- j.refreshTarget(ctx, target)
		}
	}
}

func (j *RefreshJob) refreshTarget(ctx context.Context, target RefreshTarget) targetResult {
	result := targetResult{
		target:  target,
		success: true,
	}

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	sensorIDs := target.SensorIDs
	if j.catalog != nil {
		sensors, source, err := j.catalog.RefreshSensors(ctx, target.StationID)
		switch {
		case err != nil:
			result.fail("sensors", target.StationID, 0, err)
		case source == airquality.SourceCache:
			result.cacheHits++
			result.fail("sensors", target.StationID, 0, errServedFromCache)
		default:
			result.cacheMisses++
			j.count(&j.metrics.SensorRefresh)
		}
		if len(sensorIDs) == 0 {
			for _, s := range sensors {
				sensorIDs = append(sensorIDs, s.ID)
			}
		}
	}

	if !j.config.RefreshMeasurements || j.acquirer == nil {
		return result
	}

	now := j.now()
	for _, sensorID := range sensorIDs {
		res, err := j.acquirer.Acquire(ctx, acquisition.Request{
			StationID: target.StationID,
			SensorID:  sensorID,
			From:      now.Add(-j.config.Window),
			To:        now,
		})
		switch {
		case err != nil:
			result.fail("series", target.StationID, sensorID, err)
		case res.Source == airquality.SourceCache:
			result.cacheHits++
			result.fail("series", target.StationID, sensorID, errServedFromCache)
		default:
			result.cacheMisses++
			j.count(&j.metrics.SeriesRefresh)
		}
	}

	return result
}

func (r *targetResult) fail(unit string, stationID, sensorID int, err error) {
	r.success = false
	r.errors = append(r.errors, RefreshError{
		Unit:      unit,
		StationID: stationID,
		SensorID:  sensorID,
		Error:     err.Error(),
	})
}

func (j *RefreshJob) count(counter *int64) {
	j.metrics.mu.Lock()
	*counter++
	j.metrics.mu.Unlock()
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRefreshes++
	j.metrics.SuccessfulRefresh += int64(result.Successful)
	j.metrics.FailedRefreshes += int64(result.Failed)
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
	j.metrics.CacheHits += int64(result.CacheHits)
	j.metrics.CacheMisses += int64(result.CacheMisses)
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      j.metrics.TotalRefreshes,
		SuccessfulRefresh:   j.metrics.SuccessfulRefresh,
		FailedRefreshes:     j.metrics.FailedRefreshes,
		StationRefresh:      j.metrics.StationRefresh,
		SensorRefresh:       j.metrics.SensorRefresh,
		SeriesRefresh:       j.metrics.SeriesRefresh,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
		CacheHits:           j.metrics.CacheHits,
		CacheMisses:         j.metrics.CacheMisses,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefresh,
		"failed_refreshes":      m.FailedRefreshes,
		"station_refreshes":     m.StationRefresh,
		"sensor_refreshes":      m.SensorRefresh,
		"series_refreshes":      m.SeriesRefresh,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
		"cache_hits":            m.CacheHits,
		"cache_misses":          m.CacheMisses,
	}
}

// String summarises a result for logs.
func (r *RefreshResult) String() string {
	return fmt.Sprintf("%d/%d targets refreshed in %s", r.Successful, r.TotalTargets, r.Duration)
}
