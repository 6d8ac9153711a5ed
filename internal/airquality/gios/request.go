package gios

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/smogview/smogview/internal/airquality"
)

// RequestKind identifies which endpoint a request targets. Responses are
// dispatched on the kind recorded at issue time.
type RequestKind int

const (
	KindStations RequestKind = iota + 1
	KindSensors
	KindIndex
	KindLatestValue
	KindArchival
)

// String returns the operation name used in logs and metrics.
func (k RequestKind) String() string {
	switch k {
	case KindStations:
		return "stations"
	case KindSensors:
		return "sensors"
	case KindIndex:
		return "index"
	case KindLatestValue:
		return "latest_value"
	case KindArchival:
		return "archival"
	default:
		return "unknown"
	}
}

// Request is one logical call to the provider, tagged with the context it
// was issued in.
type Request struct {
	Kind      RequestKind
	StationID int
	SensorID  int

	// Archival parameters.
	Size int
	From time.Time
	To   time.Time
}

// StationsRequest lists all stations.
func StationsRequest() Request {
	return Request{Kind: KindStations}
}

// SensorsRequest lists the sensors of a station.
func SensorsRequest(stationID int) Request {
	return Request{Kind: KindSensors, StationID: stationID}
}

// IndexRequest asks for the current air-quality index of a station.
func IndexRequest(stationID int) Request {
	return Request{Kind: KindIndex, StationID: stationID}
}

// LatestValueRequest asks for the recent readings of a sensor. The station
// id is carried only as context.
func LatestValueRequest(stationID, sensorID int) Request {
	return Request{Kind: KindLatestValue, StationID: stationID, SensorID: sensorID}
}

// ArchivalRequest asks for historical readings of a sensor.
func ArchivalRequest(q airquality.ArchivalQuery) Request {
	return Request{
		Kind:     KindArchival,
		SensorID: q.SensorID,
		Size:     q.Size,
		From:     q.From,
		To:       q.To,
	}
}

// archivalDateLayout renders the hour-resolution bounds the archive expects.
const archivalDateLayout = "2006-01-02 15:00"

// path returns the endpoint path and query for a request.
func (r Request) path(loc *time.Location) (string, error) {
	switch r.Kind {
	case KindStations:
		return "/station/findAll?sort=stationName", nil
	case KindSensors:
		return "/station/sensors/" + strconv.Itoa(r.StationID), nil
	case KindIndex:
		return "/aqindex/getIndex/" + strconv.Itoa(r.StationID), nil
	case KindLatestValue:
		return "/data/getData/" + strconv.Itoa(r.SensorID), nil
	case KindArchival:
		size := r.Size
		if size < 1 {
			size = airquality.WholeHours(r.From, r.To)
		}
		return fmt.Sprintf("/archivalData/getDataBySensor/%d?size=%d&dateFrom=%s&dateTo=%s",
			r.SensorID,
			size,
			escapeDate(r.From.In(loc).Format(archivalDateLayout)),
			escapeDate(r.To.In(loc).Format(archivalDateLayout)),
		), nil
	default:
		return "", fmt.Errorf("unknown request kind %d", r.Kind)
	}
}

var dateEscaper = strings.NewReplacer(" ", "%20", ":", "%3A")

func escapeDate(s string) string {
	return dateEscaper.Replace(s)
}
