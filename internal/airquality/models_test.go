package airquality_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smogview/smogview/internal/airquality"
)

func TestMeasurementPoint_Key(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	utc := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{"utc", utc, "2024-01-01T00:00:00Z"},
		{"same instant elsewhere", utc.In(cet), "2024-01-01T00:00:00Z"},
		{"sub-second dropped", time.Date(2024, 1, 1, 1, 0, 0, 999_000_000, cet), "2024-01-01T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, airquality.MeasurementPoint{Timestamp: tt.ts}.Key())
		})
	}
}

func TestParseKey(t *testing.T) {
	cet := time.FixedZone("CET", 3600)

	ts, err := airquality.ParseKey("2024-01-01T01:00:00+01:00", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00Z", airquality.MeasurementPoint{Timestamp: ts}.Key())

	legacy, err := airquality.ParseKey("2024-01-01T01:00:00", cet)
	require.NoError(t, err)
	assert.True(t, ts.Equal(legacy), "offset-less keys are read in the given location")

	_, err = airquality.ParseKey("yesterday", cet)
	assert.Error(t, err)
}
