// Package gios provides a client for the GIOŚ air quality REST API.
package gios

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the GIOŚ API.
	DefaultBaseURL = "https://api.gios.gov.pl/pjp-api/rest"

	// ProviderName identifies this provider.
	ProviderName = "gios"

	// DefaultTimeZone is the zone the API reports local timestamps in.
	DefaultTimeZone = "Europe/Warsaw"
)

// ClientConfig holds configuration for the GIOŚ client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient is the HTTP client to use (must implement HTTPDoer).
	// If nil, a single-attempt resilient client will be created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration

	// MaxRetries applies only to the default HTTP client. The interactive
	// paths use zero.
	MaxRetries uint64

	// Registry tracks provider health for the default HTTP client.
	Registry *resilience.Registry

	// Location is the zone remote timestamps are interpreted in
	// (default: DefaultTimeZone, falling back to UTC).
	Location *time.Location

	// Metrics, if set, records every request.
	Metrics RequestRecorder

	// UserAgent identifies SmogView to the provider (default: DefaultUserAgent).
	UserAgent string

	Logger zerolog.Logger
}

// DefaultUserAgent is sent when ClientConfig.UserAgent is empty.
const DefaultUserAgent = "smogview (+https://github.com/smogview/smogview)"

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestRecorder records provider request metrics.
type RequestRecorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
}

// Result is the single outcome of a Fetch: either Body or Err is set.
type Result struct {
	Request Request
	Body    []byte
	Err     error
}

// Client is a GIOŚ API client.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	location   *time.Location
	metrics    RequestRecorder
	logger     zerolog.Logger
}

// NewClient creates a new GIOŚ client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		rc := resilience.SingleAttemptConfig(ProviderName)
		rc.Timeout = timeout
		rc.MaxRetries = cfg.MaxRetries
		rc.InitialInterval = 200 * time.Millisecond
		rc.Registry = cfg.Registry
		rc.Logger = cfg.Logger
		rc.UserAgent = cfg.UserAgent
		if rc.UserAgent == "" {
			rc.UserAgent = DefaultUserAgent
		}
		httpClient = resilience.NewClient(rc)
	}

	loc := cfg.Location
	if loc == nil {
		loc = DefaultLocation()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		location:   loc,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// DefaultLocation returns the API's time zone, or UTC when the zone database
// is unavailable.
func DefaultLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultTimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Location returns the zone remote timestamps are read in.
func (c *Client) Location() *time.Location {
	return c.location
}

// Fetch issues req on its own goroutine and returns a channel that receives
// exactly one Result and is then closed. A body that is not valid JSON is
// still a successful result; decoding is the caller's concern.
func (c *Client) Fetch(ctx context.Context, req Request) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		body, err := c.get(ctx, req)
		out <- Result{Request: req, Body: body, Err: err}
	}()
	return out
}

func (c *Client) get(ctx context.Context, req Request) (body []byte, err error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordRequest(ProviderName, req.Kind.String(), time.Since(start), err)
		}
	}()

	path, err := req.path(c.location)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug().Err(err).Str("operation", req.Kind.String()).Msg("gios request failed")
		return nil, fmt.Errorf("fetch %s: %w: %w", req.Kind, airquality.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: %w: unexpected status %d", req.Kind, airquality.ErrNetworkUnavailable, resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w: %w", req.Kind, airquality.ErrNetworkUnavailable, err)
	}

	return body, nil
}

// await runs req and decodes the outcome.
func (c *Client) await(ctx context.Context, req Request) (Payload, error) {
	var res Result
	select {
	case res = <-c.Fetch(ctx, req):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return Decode(req, res.Body, c.location)
}

// FetchStations retrieves all stations.
func (c *Client) FetchStations(ctx context.Context) ([]airquality.Station, error) {
	p, err := c.await(ctx, StationsRequest())
	if err != nil {
		return nil, err
	}
	list, ok := p.(StationList)
	if !ok {
		return nil, unexpected(KindStations, p)
	}
	if len(list.Stations) == 0 {
		return nil, airquality.ErrEmptyRemotePayload
	}
	return list.Stations, nil
}

// FetchSensors retrieves the sensors of a station.
func (c *Client) FetchSensors(ctx context.Context, stationID int) ([]airquality.Sensor, error) {
	p, err := c.await(ctx, SensorsRequest(stationID))
	if err != nil {
		return nil, err
	}
	list, ok := p.(SensorList)
	if !ok {
		return nil, unexpected(KindSensors, p)
	}
	if len(list.Sensors) == 0 {
		return nil, airquality.ErrEmptyRemotePayload
	}
	return list.Sensors, nil
}

// FetchIndex retrieves the current air-quality index of a station.
func (c *Client) FetchIndex(ctx context.Context, stationID int) (*airquality.IndexInfo, error) {
	p, err := c.await(ctx, IndexRequest(stationID))
	if err != nil {
		return nil, err
	}
	info, ok := p.(IndexInfo)
	if !ok {
		return nil, unexpected(KindIndex, p)
	}
	return &info.Index, nil
}

// FetchLatestValue retrieves the most recent non-null reading of a sensor.
func (c *Client) FetchLatestValue(ctx context.Context, sensorID int) (*airquality.LatestValue, error) {
	p, err := c.await(ctx, LatestValueRequest(0, sensorID))
	if err != nil {
		return nil, err
	}
	latest, ok := p.(LatestValue)
	if !ok {
		return nil, unexpected(KindLatestValue, p)
	}
	if latest.Value == nil {
		return nil, airquality.ErrEmptyRemotePayload
	}
	return latest.Value, nil
}

// FetchArchival retrieves historical readings of a sensor. Malformed entries
// are dropped; an empty result is ErrEmptyRemotePayload.
func (c *Client) FetchArchival(ctx context.Context, q airquality.ArchivalQuery) ([]airquality.MeasurementPoint, error) {
	p, err := c.await(ctx, ArchivalRequest(q))
	if err != nil {
		return nil, err
	}
	series, ok := p.(ArchivalSeries)
	if !ok {
		return nil, unexpected(KindArchival, p)
	}
	if series.Dropped > 0 {
		c.logger.Debug().
			Int("sensor_id", q.SensorID).
			Int("dropped", series.Dropped).
			Msg("dropped malformed archival records")
	}
	if len(series.Points) == 0 {
		return nil, airquality.ErrEmptyRemotePayload
	}
	return series.Points, nil
}

func unexpected(kind RequestKind, p Payload) error {
	return fmt.Errorf("%w: %T in response to %s", airquality.ErrUnrecognizedPayload, p, kind)
}
