// Package airquality provides the domain types for air-quality stations,
// their sensors and measurement series.
package airquality

import (
	"errors"
	"time"
)

// Acquisition errors.
var (
	// ErrNetworkUnavailable is a transport-level failure or a non-success status.
	ErrNetworkUnavailable = errors.New("air quality provider unavailable")

	// ErrEmptyRemotePayload means the provider answered with zero records.
	ErrEmptyRemotePayload = errors.New("provider returned no records")

	// ErrCacheMiss means no locally cached record satisfies the request.
	ErrCacheMiss = errors.New("no data available")

	// ErrMalformedRecord marks a single record that failed to parse.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnrecognizedPayload is returned when a body matches no known shape.
	ErrUnrecognizedPayload = errors.New("unrecognized payload")
)

// KeyLayout is the canonical timestamp layout used as the series dedup key.
const KeyLayout = "2006-01-02T15:04:05Z07:00"

// legacyKeyLayout is the offset-less form written by older cache files.
const legacyKeyLayout = "2006-01-02T15:04:05"

// Station represents a measurement station.
type Station struct {
	ID   int
	Name string
}

// Sensor represents one measured parameter at a station.
type Sensor struct {
	ID        int
	StationID int
	ParamName string
}

// MeasurementPoint is a single sample of a sensor series.
type MeasurementPoint struct {
	Timestamp time.Time
	Value     float64
}

// Key returns the canonical timestamp string of the point: the instant in
// UTC at second precision, whatever location the timestamp carries.
func (p MeasurementPoint) Key() string {
	return p.Timestamp.UTC().Format(KeyLayout)
}

// ParseKey parses a canonical timestamp. Keys without an offset are
// interpreted in loc.
func ParseKey(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(KeyLayout, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(legacyKeyLayout, s, loc)
}

// IndexInfo is the current air-quality index of a station.
type IndexInfo struct {
	StationID int
	LevelName string
}

// LatestValue is the most recent non-null reading of a sensor.
type LatestValue struct {
	SensorID  int
	Key       string
	Timestamp time.Time
	Value     float64
}

// ArchivalQuery describes a request for historical measurements.
type ArchivalQuery struct {
	SensorID int
	Size     int
	From     time.Time
	To       time.Time
}

// WholeHours returns the number of whole hours between from and to, at least 1.
func WholeHours(from, to time.Time) int {
	hours := int(to.Sub(from) / time.Hour)
	if hours < 1 {
		return 1
	}
	return hours
}
