package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/acquisition"
	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/api/models"
	"github.com/smogview/smogview/internal/api/response"
)

var validate = validator.New()

// Accepted layouts for the from/to query parameters, besides RFC 3339.
var queryTimeLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}

// StationService provides station reference data.
type StationService interface {
	Stations(ctx context.Context) ([]airquality.Station, airquality.Source, error)
	Sensors(ctx context.Context, stationID int) ([]airquality.Sensor, airquality.Source, error)
	Index(ctx context.Context, stationID int) (*airquality.IndexInfo, error)
	LatestValue(ctx context.Context, sensorID int) (*airquality.LatestValue, error)
}

// SeriesAcquirer produces measurement series.
type SeriesAcquirer interface {
	Acquire(ctx context.Context, req acquisition.Request) (*acquisition.Result, error)
}

// AirQualityHandler handles station, sensor and measurement endpoints.
type AirQualityHandler struct {
	stations StationService
	series   SeriesAcquirer
	location *time.Location
	logger   zerolog.Logger
}

// NewAirQualityHandler creates a new AirQualityHandler. Query times without an
// offset are read in loc.
func NewAirQualityHandler(stations StationService, series SeriesAcquirer, loc *time.Location, logger zerolog.Logger) *AirQualityHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AirQualityHandler{
		stations: stations,
		series:   series,
		location: loc,
		logger:   logger,
	}
}

// ListStations handles GET /v1/stations.
func (h *AirQualityHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	stations, source, err := h.stations.Stations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list := models.StationList{
		Items:  make([]models.Station, 0, len(stations)),
		Source: models.DataSource(source),
	}
	for _, s := range stations {
		if s.Name == "" {
			continue
		}
		list.Items = append(list.Items, models.Station{StationID: s.ID, Name: s.Name})
	}
	response.JSON(w, r, http.StatusOK, list)
}

// ListSensors handles GET /v1/stations/{stationId}/sensors.
func (h *AirQualityHandler) ListSensors(w http.ResponseWriter, r *http.Request) {
	stationID, ok := pathID(w, r, "stationId")
	if !ok {
		return
	}

	sensors, source, err := h.stations.Sensors(r.Context(), stationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list := models.SensorList{
		StationID: stationID,
		Items:     make([]models.Sensor, 0, len(sensors)),
		Source:    models.DataSource(source),
	}
	for _, s := range sensors {
		list.Items = append(list.Items, models.Sensor{SensorID: s.ID, StationID: stationID, ParamName: s.ParamName})
	}
	response.JSON(w, r, http.StatusOK, list)
}

// GetIndex handles GET /v1/stations/{stationId}/index.
func (h *AirQualityHandler) GetIndex(w http.ResponseWriter, r *http.Request) {
	stationID, ok := pathID(w, r, "stationId")
	if !ok {
		return
	}

	info, err := h.stations.Index(r.Context(), stationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.StationIndex{StationID: stationID, Level: info.LevelName})
}

// GetLatestValue handles GET /v1/sensors/{sensorId}/latest.
func (h *AirQualityHandler) GetLatestValue(w http.ResponseWriter, r *http.Request) {
	sensorID, ok := pathID(w, r, "sensorId")
	if !ok {
		return
	}

	v, err := h.stations.LatestValue(r.Context(), sensorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.LatestValue{
		SensorID: sensorID,
		Time:     models.Timestamp(v.Timestamp),
		Value:    v.Value,
	})
}

// GetMeasurements handles
// GET /v1/stations/{stationId}/sensors/{sensorId}/measurements?from=&to=.
func (h *AirQualityHandler) GetMeasurements(w http.ResponseWriter, r *http.Request) {
	q, fieldErrs := h.parseMeasurementsQuery(r)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid measurements request", fieldErrs)
		return
	}

	if err := validate.Struct(q); err != nil {
		response.BadRequest(w, r, "invalid measurements request", validationErrors(err))
		return
	}

	res, err := h.series.Acquire(r.Context(), acquisition.Request{
		StationID: q.StationID,
		SensorID:  q.SensorID,
		From:      q.From,
		To:        q.To,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, toMeasurements(res))
}

func (h *AirQualityHandler) parseMeasurementsQuery(r *http.Request) (models.MeasurementsQuery, []models.FieldError) {
	var (
		q    models.MeasurementsQuery
		errs []models.FieldError
		err  error
	)

	if q.StationID, err = strconv.Atoi(chi.URLParam(r, "stationId")); err != nil {
		errs = append(errs, models.FieldError{Field: "stationId", Message: "must be an integer", Code: "type"})
	}
	if q.SensorID, err = strconv.Atoi(chi.URLParam(r, "sensorId")); err != nil {
		errs = append(errs, models.FieldError{Field: "sensorId", Message: "must be an integer", Code: "type"})
	}

	query := r.URL.Query()
	if q.From, err = h.parseTime(query.Get("from")); err != nil {
		errs = append(errs, models.FieldError{Field: "from", Message: err.Error(), Code: "format"})
	}
	if q.To, err = h.parseTime(query.Get("to")); err != nil {
		errs = append(errs, models.FieldError{Field: "to", Message: err.Error(), Code: "format"})
	}

	return q, errs
}

// parseTime accepts RFC 3339 or a local time without offset. An empty value
// is the zero time.
func (h *AirQualityHandler) parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range queryTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, h.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func (h *AirQualityHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, airquality.ErrCacheMiss):
		response.NotFound(w, r, err.Error())
	case errors.Is(err, acquisition.ErrInvalidRange):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, airquality.ErrNetworkUnavailable),
		errors.Is(err, airquality.ErrEmptyRemotePayload),
		errors.Is(err, airquality.ErrUnrecognizedPayload),
		errors.Is(err, airquality.ErrMalformedRecord):
		response.ServiceUnavailable(w, r, "air quality provider unavailable")
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		response.InternalError(w, r, "unexpected error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, param))
	if err != nil {
		response.BadRequest(w, r, param+" must be an integer", []models.FieldError{
			{Field: param, Message: "must be an integer", Code: "type"},
		})
		return 0, false
	}
	return id, true
}

func validationErrors(err error) []models.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		out = append(out, models.FieldError{
			Field:   strings.ToLower(field[:1]) + field[1:],
			Message: fmt.Sprintf("failed %q validation", fe.Tag()),
			Code:    fe.Tag(),
		})
	}
	return out
}

func toMeasurements(res *acquisition.Result) models.Measurements {
	points := make([]models.MeasurementPoint, 0, len(res.Points))
	for _, p := range res.Points {
		points = append(points, models.MeasurementPoint{Time: models.Timestamp(p.Timestamp), Value: p.Value})
	}

	st := res.Stats
	return models.Measurements{
		StationID: res.Request.StationID,
		SensorID:  res.Request.SensorID,
		From:      models.Timestamp(res.Request.From),
		To:        models.Timestamp(res.Request.To),
		Source:    models.DataSource(res.Source),
		Points:    points,
		Statistics: models.SeriesStatistics{
			Count:   st.Count,
			Min:     st.Min,
			MinAt:   models.Timestamp(st.MinTime),
			Max:     st.Max,
			MaxAt:   models.Timestamp(st.MaxTime),
			Average: st.Average,
			Trend:   string(st.Trend),
		},
	}
}
