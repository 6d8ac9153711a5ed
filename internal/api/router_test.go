package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smogview/smogview/internal/acquisition"
	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/api"
	"github.com/smogview/smogview/internal/api/handler"
	"github.com/smogview/smogview/internal/api/models"
	"github.com/smogview/smogview/internal/provider/resilience"
)

type fakeStations struct {
	stations      []airquality.Station
	stationSource airquality.Source
	sensors       map[int][]airquality.Sensor
	err           error
}

func (f *fakeStations) Stations(context.Context) ([]airquality.Station, airquality.Source, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.stations, f.stationSource, nil
}

func (f *fakeStations) Sensors(_ context.Context, stationID int) ([]airquality.Sensor, airquality.Source, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	sensors, ok := f.sensors[stationID]
	if !ok {
		return nil, "", fmt.Errorf("sensors of station %d: %w", stationID, airquality.ErrCacheMiss)
	}
	return sensors, airquality.SourceLive, nil
}

func (f *fakeStations) Index(_ context.Context, stationID int) (*airquality.IndexInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &airquality.IndexInfo{StationID: stationID, LevelName: "Dobry"}, nil
}

func (f *fakeStations) LatestValue(_ context.Context, sensorID int) (*airquality.LatestValue, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &airquality.LatestValue{
		SensorID:  sensorID,
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Value:     17.4,
	}, nil
}

type fakeSeries struct {
	last acquisition.Request
	err  error
}

func (f *fakeSeries) Acquire(_ context.Context, req acquisition.Request) (*acquisition.Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	points := []airquality.MeasurementPoint{
		{Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), Value: 10},
		{Timestamp: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), Value: 30},
	}
	return &acquisition.Result{
		Request: req,
		Points:  points,
		Stats:   acquisition.Summarize(points),
		Source:  airquality.SourceCache,
	}, nil
}

type routerFixture struct {
	stations *fakeStations
	series   *fakeSeries
	registry *resilience.Registry
	probes   map[string]handler.ReadinessProbe
}

func newFixture() *routerFixture {
	return &routerFixture{
		stations: &fakeStations{
			stations: []airquality.Station{
				{ID: 114, Name: "Wrocław - Bartnicza"},
				{ID: 115},
				{ID: 117, Name: "Wrocław - Korzeniowskiego"},
			},
			stationSource: airquality.SourceLive,
			sensors: map[int][]airquality.Sensor{
				114: {{ID: 642, StationID: 114, ParamName: "PM10"}},
			},
		},
		series:   &fakeSeries{},
		registry: resilience.NewRegistry(),
		probes:   map[string]handler.ReadinessProbe{},
	}
}

func (f *routerFixture) router() http.Handler {
	return api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2024-01-01T00:00:00Z",
		Logger:    zerolog.New(io.Discard),
		Stations:  f.stations,
		Series:    f.series,
		Location:  time.UTC,
		Registry:  f.registry,
		Probes:    f.probes,
	})
}

func newTestRouter() http.Handler {
	return newFixture().router()
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthCheck(t *testing.T) {
	w := get(t, newTestRouter(), "/v1/ops/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))

	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	f := newFixture()
	f.probes["local-cache"] = func(context.Context) error { return nil }

	w := get(t, f.router(), "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	f.probes["local-cache"] = func(context.Context) error { return errors.New("cache dir not writable") }
	w = get(t, f.router(), "/v1/ops/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
}

func TestRouter_SystemStatus(t *testing.T) {
	f := newFixture()
	f.probes["local-cache"] = func(context.Context) error { return nil }
	cfg := resilience.SingleAttemptConfig("gios")
	cfg.Registry = f.registry
	resilience.NewClient(cfg)
	f.registry.RecordFailure("gios", errors.New("timeout"))

	w := get(t, f.router(), "/v1/ops/status")
	assert.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))

	assert.Equal(t, models.HealthStatusDegraded, status.Status)
	assert.Equal(t, []string{"serving-cached-gios"}, status.ActiveDegradationFlags)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "local-cache", status.Subsystems[0].Name)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "gios", status.Providers[0].Provider)
	assert.Equal(t, models.HealthStatusDegraded, status.Providers[0].Status)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
	require.NotNil(t, status.Providers[0].Message)
	assert.Equal(t, "timeout", *status.Providers[0].Message)
	assert.NotNil(t, status.Providers[0].LastFailureAt)
}

func TestRouter_SystemStatusHealthy(t *testing.T) {
	f := newFixture()
	cfg := resilience.SingleAttemptConfig("gios")
	cfg.Registry = f.registry
	resilience.NewClient(cfg)
	f.registry.RecordSuccess("gios")

	w := get(t, f.router(), "/v1/ops/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Empty(t, status.ActiveDegradationFlags)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, models.HealthStatusOK, status.Providers[0].Status)
	assert.NotNil(t, status.Providers[0].LastSuccessAt)
}

func TestRouter_ListStations(t *testing.T) {
	w := get(t, newTestRouter(), "/v1/stations")
	assert.Equal(t, http.StatusOK, w.Code)

	var list models.StationList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))

	assert.Equal(t, models.DataSourceLive, list.Source)
	require.Len(t, list.Items, 2, "unnamed stations are not listed")
	assert.Equal(t, 114, list.Items[0].StationID)
	assert.Equal(t, 117, list.Items[1].StationID)
}

func TestRouter_ListStations_FromCache(t *testing.T) {
	f := newFixture()
	f.stations.stationSource = airquality.SourceCache

	w := get(t, f.router(), "/v1/stations")

	var list models.StationList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, models.DataSourceCache, list.Source)
}

func TestRouter_ListSensors(t *testing.T) {
	router := newTestRouter()

	w := get(t, router, "/v1/stations/114/sensors")
	assert.Equal(t, http.StatusOK, w.Code)

	var list models.SensorList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 114, list.StationID)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "PM10", list.Items[0].ParamName)

	w = get(t, router, "/v1/stations/999/sensors")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	w = get(t, router, "/v1/stations/abc/sensors")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_GetIndex(t *testing.T) {
	w := get(t, newTestRouter(), "/v1/stations/114/index")
	assert.Equal(t, http.StatusOK, w.Code)

	var idx models.StationIndex
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &idx))
	assert.Equal(t, "Dobry", idx.Level)
}

func TestRouter_ProviderUnavailable(t *testing.T) {
	f := newFixture()
	f.stations.err = fmt.Errorf("index of station 114: %w", airquality.ErrNetworkUnavailable)

	w := get(t, f.router(), "/v1/stations/114/index")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeUnavailable, problem.Type)
	assert.Equal(t, "/v1/stations/114/index", problem.Instance)
}

func TestRouter_GetLatestValue(t *testing.T) {
	w := get(t, newTestRouter(), "/v1/sensors/642/latest")
	assert.Equal(t, http.StatusOK, w.Code)

	var v models.LatestValue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, 642, v.SensorID)
	assert.InDelta(t, 17.4, v.Value, 1e-9)
	assert.True(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Equal(v.Time.Time()))
}

func TestRouter_GetMeasurements(t *testing.T) {
	f := newFixture()

	w := get(t, f.router(), "/v1/stations/114/sensors/642/measurements?from=2024-03-01%2009:00&to=2024-03-01T12:00:00Z")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 114, f.series.last.StationID)
	assert.Equal(t, 642, f.series.last.SensorID)
	assert.True(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Equal(f.series.last.From))
	assert.True(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Equal(f.series.last.To))

	var m models.Measurements
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, models.DataSourceCache, m.Source)
	require.Len(t, m.Points, 2)
	assert.Equal(t, 2, m.Statistics.Count)
	assert.InDelta(t, 20.0, m.Statistics.Average, 1e-9)
	assert.Equal(t, 30.0, m.Statistics.Max)
	assert.Equal(t, "rising", m.Statistics.Trend)
}

func TestRouter_GetMeasurements_DefaultWindow(t *testing.T) {
	f := newFixture()

	w := get(t, f.router(), "/v1/stations/114/sensors/642/measurements")
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, f.series.last.From.IsZero())
	assert.True(t, f.series.last.To.IsZero())
}

func TestRouter_GetMeasurements_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		field string
	}{
		{"non-numeric sensor", "/v1/stations/114/sensors/x/measurements", "sensorId"},
		{"non-positive station", "/v1/stations/0/sensors/642/measurements", "stationID"},
		{"bad from", "/v1/stations/114/sensors/642/measurements?from=yesterday", "from"},
		{"from after to", "/v1/stations/114/sensors/642/measurements?from=2024-03-02T00:00:00Z&to=2024-03-01T00:00:00Z", "to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			w := get(t, f.router(), tt.path)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var problem models.Problem
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
			assert.Equal(t, models.ProblemTypeValidation, problem.Type)
			require.NotEmpty(t, problem.Errors)
			assert.Equal(t, tt.field, problem.Errors[0].Field)
			assert.Zero(t, f.series.last.SensorID, "acquisition is not attempted")
		})
	}
}

func TestRouter_GetMeasurements_NoData(t *testing.T) {
	f := newFixture()
	f.series.err = fmt.Errorf("series 114/642: %w", airquality.ErrCacheMiss)

	w := get(t, f.router(), "/v1/stations/114/sensors/642/measurements")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeNotFound, problem.Type)
	assert.Contains(t, problem.Detail, "no data available")
}

func TestRouter_GetMeasurements_InvalidRange(t *testing.T) {
	f := newFixture()
	f.series.err = acquisition.ErrInvalidRange

	w := get(t, f.router(), "/v1/stations/114/sensors/642/measurements")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_RequestID_Generated(t *testing.T) {
	w := get(t, newTestRouter(), "/v1/ops/health")

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	w := get(t, newTestRouter(), "/v1/nonexistent")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
