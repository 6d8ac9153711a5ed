package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/store"
)

const tracerName = "github.com/smogview/smogview/internal/acquisition"

// ErrInvalidRange is returned when the window starts after it ends.
var ErrInvalidRange = errors.New("invalid time range: from is after to")

// DefaultWindow is used when a request leaves From unset.
const DefaultWindow = 24 * time.Hour

// ArchivalFetcher retrieves historical readings from the provider.
type ArchivalFetcher interface {
	FetchArchival(ctx context.Context, q airquality.ArchivalQuery) ([]airquality.MeasurementPoint, error)
}

// CacheRecorder records whether an acquisition was served from the cache.
type CacheRecorder interface {
	RecordCacheHit(provider, operation string)
	RecordCacheMiss(provider, operation string)
}

// Request identifies a series and a window.
type Request struct {
	StationID int
	SensorID  int
	From      time.Time
	To        time.Time
}

// Result is a successful acquisition. Results may be shared between
// concurrent callers and must be treated as read-only.
type Result struct {
	Request Request
	Points  []airquality.MeasurementPoint
	Stats   Statistics
	Source  airquality.Source
}

// Config holds configuration for the coordinator.
type Config struct {
	Fetcher ArchivalFetcher
	Store   store.Store

	// Metrics, if set, records cache hits and misses.
	Metrics CacheRecorder

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	Logger zerolog.Logger
}

// Coordinator runs acquisitions: fetch, write through, or fall back to the
// cache filtered to the window.
type Coordinator struct {
	fetcher ArchivalFetcher
	store   store.Store
	metrics CacheRecorder
	now     func() time.Time
	logger  zerolog.Logger

	group singleflight.Group
}

// NewCoordinator creates a new acquisition coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		fetcher: cfg.Fetcher,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		now:     now,
		logger:  cfg.Logger,
	}
}

// Normalize clamps the window to the current time and fills unset bounds: To
// defaults to now and From to DefaultWindow before To.
func (c *Coordinator) Normalize(req Request) (Request, error) {
	now := c.now()
	if req.To.IsZero() || req.To.After(now) {
		req.To = now
	}
	if req.From.IsZero() {
		req.From = req.To.Add(-DefaultWindow)
	}
	if req.From.After(now) {
		req.From = now
	}
	if req.From.After(req.To) {
		return req, ErrInvalidRange
	}
	return req, nil
}

// Acquire returns the series for the request. A live series with at least one
// point is written to the store and returned in received order. Otherwise the
// cached series within [From, To] is returned in ascending order, or
// airquality.ErrCacheMiss if there is none. Identical concurrent requests
// share a single acquisition. The shared acquisition outlives any one
// caller's cancellation; a cancelled caller returns ctx.Err() without
// waiting for it.
func (c *Coordinator) Acquire(ctx context.Context, req Request) (*Result, error) {
	req, err := c.Normalize(req)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d/%d/%d/%d", req.StationID, req.SensorID, req.From.Unix(), req.To.Unix())
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.acquire(shared, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	}
}

func (c *Coordinator) acquire(ctx context.Context, req Request) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "acquisition.Acquire")
	defer span.End()
	span.SetAttributes(
		attribute.Int("station.id", req.StationID),
		attribute.Int("sensor.id", req.SensorID),
		attribute.String("window.from", req.From.Format(time.RFC3339)),
		attribute.String("window.to", req.To.Format(time.RFC3339)),
	)

	points, err := c.fetcher.FetchArchival(ctx, airquality.ArchivalQuery{
		SensorID: req.SensorID,
		Size:     airquality.WholeHours(req.From, req.To),
		From:     req.From,
		To:       req.To,
	})
	if err == nil && len(points) > 0 {
		c.store.MergeMeasurements(ctx, req.StationID, req.SensorID, points)
		span.SetAttributes(attribute.String("acquisition.source", string(airquality.SourceLive)))
		return &Result{
			Request: req,
			Points:  points,
			Stats:   Summarize(points),
			Source:  airquality.SourceLive,
		}, nil
	}

	c.logger.Info().
		Err(err).
		Int("station_id", req.StationID).
		Int("sensor_id", req.SensorID).
		Msg("archival fetch unavailable, using cached data")

	cached := FilterRange(c.store.LoadMeasurements(ctx, req.StationID, req.SensorID), req.From, req.To)
	if len(cached) == 0 {
		c.recordCache(false)
		span.SetStatus(codes.Error, airquality.ErrCacheMiss.Error())
		return nil, airquality.ErrCacheMiss
	}

	c.recordCache(true)
	span.SetAttributes(attribute.String("acquisition.source", string(airquality.SourceCache)))
	return &Result{
		Request: req,
		Points:  cached,
		Stats:   Summarize(cached),
		Source:  airquality.SourceCache,
	}, nil
}

func (c *Coordinator) recordCache(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.RecordCacheHit("gios", "archival")
	} else {
		c.metrics.RecordCacheMiss("gios", "archival")
	}
}
