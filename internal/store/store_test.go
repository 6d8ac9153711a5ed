package store_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/store"
)

var warsaw = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
}()

// backends returns a fresh instance of every store that runs without
// external services.
func backends(t *testing.T) map[string]store.Store {
	t.Helper()

	js, err := store.NewJSONStore(store.JSONConfig{
		Dir:      t.TempDir(),
		Location: warsaw,
		Logger:   zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	return map[string]store.Store{
		"json":   js,
		"memory": store.NewMemoryStore(),
	}
}

func hour(h int) time.Time {
	return time.Date(2024, 3, 1, h, 0, 0, 0, warsaw)
}

func TestStore_MergeStationsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			batch := []airquality.Station{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}

			s.MergeStations(ctx, batch)
			first := s.LoadStations(ctx)
			s.MergeStations(ctx, batch)

			assert.Equal(t, first, s.LoadStations(ctx))
			assert.Len(t, first, 2)
		})
	}
}

func TestStore_MergeStationsPreservesUnion(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.MergeStations(ctx, []airquality.Station{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}})
			s.MergeStations(ctx, []airquality.Station{{ID: 2, Name: "B renamed"}, {ID: 3, Name: "C"}})

			stations := s.LoadStations(ctx)
			require.Len(t, stations, 3)
			assert.Equal(t, airquality.Station{ID: 1, Name: "A"}, stations[0])
			assert.Equal(t, airquality.Station{ID: 2, Name: "B"}, stations[1], "existing record is not modified")
			assert.Equal(t, airquality.Station{ID: 3, Name: "C"}, stations[2])
		})
	}
}

func TestStore_MergeStationsDeduplicatesBatch(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.MergeStations(ctx, []airquality.Station{{ID: 7, Name: "first"}, {ID: 7, Name: "second"}})

			stations := s.LoadStations(ctx)
			require.Len(t, stations, 1)
			assert.Equal(t, "first", stations[0].Name)
		})
	}
}

func TestStore_SensorsPartitionedByStation(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.MergeSensors(ctx, 10, []airquality.Sensor{{ID: 100, ParamName: "PM10"}})
			s.MergeSensors(ctx, 11, []airquality.Sensor{{ID: 100, ParamName: "NO2"}})
			s.MergeSensors(ctx, 10, []airquality.Sensor{{ID: 100, ParamName: "changed"}, {ID: 101, ParamName: "O3"}})

			sensors := s.LoadSensors(ctx, 10)
			require.Len(t, sensors, 2)
			assert.Equal(t, airquality.Sensor{ID: 100, StationID: 10, ParamName: "PM10"}, sensors[0])
			assert.Equal(t, airquality.Sensor{ID: 101, StationID: 10, ParamName: "O3"}, sensors[1])

			other := s.LoadSensors(ctx, 11)
			require.Len(t, other, 1)
			assert.Equal(t, "NO2", other[0].ParamName)

			assert.Empty(t, s.LoadSensors(ctx, 12))
		})
	}
}

func TestStore_MeasurementsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			points := []airquality.MeasurementPoint{
				{Timestamp: hour(3), Value: 30},
				{Timestamp: hour(1), Value: 10},
				{Timestamp: hour(2), Value: 20.5},
				{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 40},
				{Timestamp: time.Date(2024, 1, 2, 6, 30, 15, 250_000_000, warsaw), Value: 50},
			}
			s.MergeMeasurements(ctx, 1, 2, points)

			loaded := s.LoadMeasurements(ctx, 1, 2)
			require.Len(t, loaded, len(points))
			for i := range points {
				assert.True(t, points[i].Timestamp.Truncate(time.Second).Equal(loaded[i].Timestamp.Truncate(time.Second)),
					"storage order is kept")
				assert.Equal(t, points[i].Value, loaded[i].Value)
				assert.Equal(t, points[i].Key(), loaded[i].Key())
			}
			assert.Equal(t, "2024-01-01T00:00:00Z", loaded[3].Key())
			assert.Equal(t, "2024-01-02T05:30:15Z", loaded[4].Key())
		})
	}
}

func TestStore_MeasurementsFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.MergeMeasurements(ctx, 1, 2, []airquality.MeasurementPoint{
				{Timestamp: hour(1), Value: 10},
				{Timestamp: hour(1), Value: 99},
			})
			// Same instant expressed in another zone.
			s.MergeMeasurements(ctx, 1, 2, []airquality.MeasurementPoint{
				{Timestamp: hour(1).UTC(), Value: 42},
				{Timestamp: hour(2), Value: 20},
			})

			loaded := s.LoadMeasurements(ctx, 1, 2)
			require.Len(t, loaded, 2)
			assert.Equal(t, 10.0, loaded[0].Value)
			assert.Equal(t, 20.0, loaded[1].Value)
		})
	}
}

func TestStore_MeasurementsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			points := []airquality.MeasurementPoint{{Timestamp: hour(1), Value: 1}, {Timestamp: hour(2), Value: 2}}

			s.MergeMeasurements(ctx, 5, 6, points)
			first := s.LoadMeasurements(ctx, 5, 6)
			s.MergeMeasurements(ctx, 5, 6, points)

			assert.Len(t, s.LoadMeasurements(ctx, 5, 6), len(first))
		})
	}
}

func TestStore_MissingUnitsLoadEmpty(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, s.LoadStations(ctx))
			assert.Empty(t, s.LoadSensors(ctx, 1))
			assert.Empty(t, s.LoadMeasurements(ctx, 1, 2))
		})
	}
}

func TestStore_NegativeIDsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.MergeMeasurements(ctx, -1, -2, []airquality.MeasurementPoint{{Timestamp: hour(1), Value: 1}})
			s.MergeMeasurements(ctx, -1, 2, []airquality.MeasurementPoint{{Timestamp: hour(1), Value: 2}})

			a := s.LoadMeasurements(ctx, -1, -2)
			b := s.LoadMeasurements(ctx, -1, 2)
			require.Len(t, a, 1)
			require.Len(t, b, 1)
			assert.Equal(t, 1.0, a[0].Value)
			assert.Equal(t, 2.0, b[0].Value)
		})
	}
}
