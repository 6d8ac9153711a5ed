package store

import (
	"context"
	"slices"
	"sync"

	"github.com/smogview/smogview/internal/airquality"
)

type seriesID struct {
	stationID int
	sensorID  int
}

// MemoryStore is an in-memory implementation of Store.
// This is intended for testing and for running without a cache directory.
type MemoryStore struct {
	mu           sync.RWMutex
	stations     []airquality.Station
	sensors      map[int][]airquality.Sensor
	measurements map[seriesID][]airquality.MeasurementPoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sensors:      make(map[int][]airquality.Sensor),
		measurements: make(map[seriesID][]airquality.MeasurementPoint),
	}
}

// MergeStations adds stations whose id is not yet stored.
func (s *MemoryStore) MergeStations(_ context.Context, stations []airquality.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations, _ = appendNew(s.stations, stations, stationKey)
}

// MergeSensors adds sensors of a station whose id is not yet stored.
func (s *MemoryStore) MergeSensors(_ context.Context, stationID int, sensors []airquality.Sensor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := make([]airquality.Sensor, 0, len(sensors))
	for _, sn := range sensors {
		sn.StationID = stationID
		incoming = append(incoming, sn)
	}
	s.sensors[stationID], _ = appendNew(s.sensors[stationID], incoming, sensorKey)
}

// MergeMeasurements adds points whose timestamp is not yet stored.
func (s *MemoryStore) MergeMeasurements(_ context.Context, stationID, sensorID int, points []airquality.MeasurementPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := seriesID{stationID: stationID, sensorID: sensorID}
	s.measurements[id], _ = appendNew(s.measurements[id], points, pointKey)
}

// LoadStations returns a copy of the stored stations.
func (s *MemoryStore) LoadStations(_ context.Context) []airquality.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.stations)
}

// LoadSensors returns a copy of the stored sensors of a station.
func (s *MemoryStore) LoadSensors(_ context.Context, stationID int) []airquality.Sensor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sensors[stationID])
}

// LoadMeasurements returns a copy of the stored series.
func (s *MemoryStore) LoadMeasurements(_ context.Context, stationID, sensorID int) []airquality.MeasurementPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.measurements[seriesID{stationID: stationID, sensorID: sensorID}])
}
