package models

import "time"

// DataSource tells whether a response came from the provider or the cache.
type DataSource string

const (
	DataSourceLive  DataSource = "LIVE"
	DataSourceCache DataSource = "CACHE"
)

// Station represents an air quality monitoring station.
type Station struct {
	StationID int    `json:"stationId"`
	Name      string `json:"name"`
}

// StationList is the list of known stations.
type StationList struct {
	Items  []Station  `json:"items"`
	Source DataSource `json:"source"`
}

// Sensor represents one measured parameter at a station.
type Sensor struct {
	SensorID  int    `json:"sensorId"`
	StationID int    `json:"stationId"`
	ParamName string `json:"paramName"`
}

// SensorList is the list of sensors of a station.
type SensorList struct {
	StationID int        `json:"stationId"`
	Items     []Sensor   `json:"items"`
	Source    DataSource `json:"source"`
}

// StationIndex is the current air quality index of a station.
type StationIndex struct {
	StationID int    `json:"stationId"`
	Level     string `json:"level"`
}

// LatestValue is the most recent reading of a sensor.
type LatestValue struct {
	SensorID int       `json:"sensorId"`
	Time     Timestamp `json:"time"`
	Value    float64   `json:"value"`
}

// MeasurementPoint is a single sample of a series.
type MeasurementPoint struct {
	Time  Timestamp `json:"time"`
	Value float64   `json:"value"`
}

// SeriesStatistics summarises a series.
type SeriesStatistics struct {
	Count   int       `json:"count"`
	Min     float64   `json:"min"`
	MinAt   Timestamp `json:"minAt"`
	Max     float64   `json:"max"`
	MaxAt   Timestamp `json:"maxAt"`
	Average float64   `json:"average"`
	Trend   string    `json:"trend"`
}

// Measurements is a series for a window with its statistics.
type Measurements struct {
	StationID  int                `json:"stationId"`
	SensorID   int                `json:"sensorId"`
	From       Timestamp          `json:"from"`
	To         Timestamp          `json:"to"`
	Source     DataSource         `json:"source"`
	Points     []MeasurementPoint `json:"points"`
	Statistics SeriesStatistics   `json:"statistics"`
}

// MeasurementsQuery is a validated measurements request. Zero bounds are
// filled in by the acquisition.
type MeasurementsQuery struct {
	StationID int       `validate:"gt=0"`
	SensorID  int       `validate:"gt=0"`
	From      time.Time `validate:"-"`
	To        time.Time `validate:"omitempty,gtefield=From"`
}
