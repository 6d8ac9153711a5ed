// Package store persists stations, sensors and measurement series locally so
// that they remain available when the provider is not.
//
// Every backend follows the same merge policy: records are identified by key
// (station id, sensor id, or the measurement timestamp), existing records are
// never modified, and only keys not yet present are appended. The first write
// of a key wins. Failures are logged and never returned; a unit that cannot be
// read loads as empty.
package store

import (
	"context"
	"time"

	"github.com/smogview/smogview/internal/airquality"
)

// Store is the local cache of provider data.
type Store interface {
	// MergeStations adds stations whose id is not yet stored.
	MergeStations(ctx context.Context, stations []airquality.Station)

	// MergeSensors adds sensors of a station whose id is not yet stored.
	MergeSensors(ctx context.Context, stationID int, sensors []airquality.Sensor)

	// MergeMeasurements adds points whose timestamp is not yet stored in the
	// (stationID, sensorID) series. Stored order is not changed.
	MergeMeasurements(ctx context.Context, stationID, sensorID int, points []airquality.MeasurementPoint)

	// LoadStations returns all stored stations.
	LoadStations(ctx context.Context) []airquality.Station

	// LoadSensors returns the stored sensors of a station.
	LoadSensors(ctx context.Context, stationID int) []airquality.Sensor

	// LoadMeasurements returns the stored series in storage order.
	LoadMeasurements(ctx context.Context, stationID, sensorID int) []airquality.MeasurementPoint
}

// appendNew appends the incoming items whose key is absent from existing and
// from the items appended before them. It returns the merged slice and the
// number of items added.
func appendNew[T any, K comparable](existing, incoming []T, key func(T) K) ([]T, int) {
	seen := make(map[K]struct{}, len(existing)+len(incoming))
	for _, item := range existing {
		seen[key(item)] = struct{}{}
	}

	added := 0
	for _, item := range incoming {
		k := key(item)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		existing = append(existing, item)
		added++
	}
	return existing, added
}

func stationKey(s airquality.Station) int { return s.ID }

func sensorKey(s airquality.Sensor) int { return s.ID }

// pointKey identifies a point by its canonical timestamp.
func pointKey(p airquality.MeasurementPoint) string {
	return p.Key()
}

// recordKey is pointKey for a stored timestamp string. Unparsable strings are
// kept distinct from every parsable one.
func recordKey(ts string, loc *time.Location) string {
	t, err := airquality.ParseKey(ts, loc)
	if err != nil {
		return "raw:" + ts
	}
	return airquality.MeasurementPoint{Timestamp: t}.Key()
}
