package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/airquality"
)

const stationsFile = "stations.json"

// JSONConfig holds configuration for the file-backed store.
type JSONConfig struct {
	// Dir is the directory holding the cache files. It is created if missing.
	Dir string

	// Location is the zone timestamps are written in and legacy
	// offset-less timestamps are read in (default: UTC).
	Location *time.Location

	Logger zerolog.Logger
}

// JSONStore keeps one JSON array per unit in a single directory:
// stations.json, {stationID}-sensors.json and {stationID}-{sensorID}.json.
type JSONStore struct {
	dir    string
	loc    *time.Location
	logger zerolog.Logger

	mu sync.Mutex
}

type stationRecord struct {
	ID          int    `json:"id"`
	StationName string `json:"stationName"`
}

type sensorRecord struct {
	ID        int    `json:"id"`
	ParamName string `json:"paramName"`
}

type measurementRecord struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

// NewJSONStore creates a file-backed store rooted at cfg.Dir.
func NewJSONStore(cfg JSONConfig) (*JSONStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return &JSONStore{
		dir:    cfg.Dir,
		loc:    loc,
		logger: cfg.Logger,
	}, nil
}

// Dir returns the directory the store writes to.
func (s *JSONStore) Dir() string {
	return s.dir
}

func sensorsFile(stationID int) string {
	return fmt.Sprintf("%d-sensors.json", stationID)
}

func measurementsFile(stationID, sensorID int) string {
	return fmt.Sprintf("%d-%d.json", stationID, sensorID)
}

// MergeStations adds stations whose id is not yet stored.
func (s *JSONStore) MergeStations(_ context.Context, stations []airquality.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []stationRecord
	s.read(stationsFile, &records)

	incoming := make([]stationRecord, 0, len(stations))
	for _, st := range stations {
		incoming = append(incoming, stationRecord{ID: st.ID, StationName: st.Name})
	}

	merged, added := appendNew(records, incoming, func(r stationRecord) int { return r.ID })
	s.write(stationsFile, merged)
	s.logger.Debug().Int("added", added).Int("total", len(merged)).Msg("merged stations")
}

// MergeSensors adds sensors of a station whose id is not yet stored.
func (s *JSONStore) MergeSensors(_ context.Context, stationID int, sensors []airquality.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := sensorsFile(stationID)

	var records []sensorRecord
	s.read(name, &records)

	incoming := make([]sensorRecord, 0, len(sensors))
	for _, sn := range sensors {
		incoming = append(incoming, sensorRecord{ID: sn.ID, ParamName: sn.ParamName})
	}

	merged, added := appendNew(records, incoming, func(r sensorRecord) int { return r.ID })
	s.write(name, merged)
	s.logger.Debug().
		Int("station_id", stationID).
		Int("added", added).
		Msg("merged sensors")
}

// MergeMeasurements adds points whose timestamp is not yet stored. Existing
// entries, including ones with unreadable timestamps, are kept as they are.
func (s *JSONStore) MergeMeasurements(_ context.Context, stationID, sensorID int, points []airquality.MeasurementPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := measurementsFile(stationID, sensorID)

	var records []measurementRecord
	s.read(name, &records)

	incoming := make([]measurementRecord, 0, len(points))
	for _, p := range points {
		incoming = append(incoming, measurementRecord{
			Timestamp: p.Timestamp.In(s.loc).Format(airquality.KeyLayout),
			Value:     p.Value,
		})
	}

	merged, added := appendNew(records, incoming, func(r measurementRecord) string {
		return recordKey(r.Timestamp, s.loc)
	})
	s.write(name, merged)
	s.logger.Debug().
		Int("station_id", stationID).
		Int("sensor_id", sensorID).
		Int("added", added).
		Int("total", len(merged)).
		Msg("merged measurements")
}

// LoadStations returns all stored stations.
func (s *JSONStore) LoadStations(_ context.Context) []airquality.Station {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []stationRecord
	s.read(stationsFile, &records)

	stations := make([]airquality.Station, 0, len(records))
	for _, r := range records {
		stations = append(stations, airquality.Station{ID: r.ID, Name: r.StationName})
	}
	return stations
}

// LoadSensors returns the stored sensors of a station.
func (s *JSONStore) LoadSensors(_ context.Context, stationID int) []airquality.Sensor {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []sensorRecord
	s.read(sensorsFile(stationID), &records)

	sensors := make([]airquality.Sensor, 0, len(records))
	for _, r := range records {
		sensors = append(sensors, airquality.Sensor{ID: r.ID, StationID: stationID, ParamName: r.ParamName})
	}
	return sensors
}

// LoadMeasurements returns the stored series in file order. Entries with
// unreadable timestamps are skipped.
func (s *JSONStore) LoadMeasurements(_ context.Context, stationID, sensorID int) []airquality.MeasurementPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []measurementRecord
	s.read(measurementsFile(stationID, sensorID), &records)

	points := make([]airquality.MeasurementPoint, 0, len(records))
	for _, r := range records {
		ts, err := airquality.ParseKey(r.Timestamp, s.loc)
		if err != nil {
			continue
		}
		points = append(points, airquality.MeasurementPoint{Timestamp: ts, Value: r.Value})
	}
	return points
}

// read decodes a unit into dst. A missing unit leaves dst empty; an
// unreadable or corrupt one is logged and leaves dst empty.
func (s *JSONStore) read(name string, dst any) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("file", name).Msg("failed to read cache file")
		}
		return
	}

	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("ignoring corrupt cache file")
	}
}

// write replaces a unit through a temporary file and rename. Failures are
// logged and leave the previous content in place.
func (s *JSONStore) write(name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("failed to encode cache file")
		return
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("failed to open cache file for writing")
		return
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, filepath.Join(s.dir, name))
	}
	if err != nil {
		_ = os.Remove(tmpName)
		s.logger.Warn().Err(err).Str("file", name).Msg("failed to write cache file")
	}
}
