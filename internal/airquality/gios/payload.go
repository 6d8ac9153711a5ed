package gios

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smogview/smogview/internal/airquality"
)

// ArchivalListKey is the top-level key of the archival measurements response.
const ArchivalListKey = "Lista archiwalnych wyników pomiarów"

// remoteDateLayout is the timestamp format used throughout the API.
const remoteDateLayout = "2006-01-02 15:04:05"

// Payload is a decoded response body. It is one of StationList, SensorList,
// IndexInfo, LatestValue or ArchivalSeries.
type Payload interface {
	payload()
}

// StationList is the body of the station/findAll endpoint.
type StationList struct {
	Stations []airquality.Station
}

// SensorList is the body of the station/sensors endpoint.
type SensorList struct {
	Sensors []airquality.Sensor
}

// IndexInfo is the body of the aqindex/getIndex endpoint.
type IndexInfo struct {
	Index airquality.IndexInfo
}

// LatestValue is the body of the data/getData endpoint. Value is nil when
// every reading is null.
type LatestValue struct {
	Value *airquality.LatestValue
}

// ArchivalSeries is the body of the archivalData endpoint. Dropped counts
// entries that could not be parsed.
type ArchivalSeries struct {
	Points  []airquality.MeasurementPoint
	Dropped int
}

func (StationList) payload()    {}
func (SensorList) payload()     {}
func (IndexInfo) payload()      {}
func (LatestValue) payload()    {}
func (ArchivalSeries) payload() {}

// API response types.

type stationData struct {
	ID          int    `json:"id"`
	StationName string `json:"stationName"`
}

type sensorData struct {
	ID        int `json:"id"`
	StationID int `json:"stationId"`
	Param     struct {
		ParamName string `json:"paramName"`
		ParamCode string `json:"paramCode"`
	} `json:"param"`
}

type indexData struct {
	ID           int `json:"id"`
	StIndexLevel *struct {
		IndexLevelName string `json:"indexLevelName"`
	} `json:"stIndexLevel"`
}

type latestData struct {
	Key    string `json:"key"`
	Values []struct {
		Date  string   `json:"date"`
		Value *float64 `json:"value"`
	} `json:"values"`
}

// Decode interprets a response body by inspecting its shape. The request
// supplies the context the body lacks (owning station or sensor) and settles
// the shape of an empty JSON array. Timestamps are read in loc.
func Decode(req Request, body []byte, loc *time.Location) (Payload, error) {
	if loc == nil {
		loc = time.UTC
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", airquality.ErrUnrecognizedPayload)
	}

	switch trimmed[0] {
	case '[':
		return decodeArray(req, trimmed)
	case '{':
		return decodeObject(req, trimmed, loc)
	default:
		return nil, fmt.Errorf("%w: not a JSON document", airquality.ErrUnrecognizedPayload)
	}
}

func decodeArray(req Request, body []byte) (Payload, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", airquality.ErrUnrecognizedPayload, err)
	}

	if len(items) == 0 {
		switch req.Kind {
		case KindStations:
			return StationList{}, nil
		case KindSensors:
			return SensorList{}, nil
		default:
			return nil, fmt.Errorf("%w: empty list for %s", airquality.ErrUnrecognizedPayload, req.Kind)
		}
	}

	var first map[string]json.RawMessage
	if err := json.Unmarshal(items[0], &first); err != nil {
		return nil, fmt.Errorf("%w: list element: %v", airquality.ErrUnrecognizedPayload, err)
	}
	if _, ok := first["param"]; ok {
		return decodeSensors(req, items), nil
	}
	if _, ok := first["stationName"]; ok {
		return decodeStations(items), nil
	}
	return nil, fmt.Errorf("%w: unknown list element", airquality.ErrUnrecognizedPayload)
}

func decodeStations(items []json.RawMessage) StationList {
	list := StationList{Stations: make([]airquality.Station, 0, len(items))}
	for _, item := range items {
		var s stationData
		if json.Unmarshal(item, &s) != nil {
			continue
		}
		list.Stations = append(list.Stations, airquality.Station{ID: s.ID, Name: s.StationName})
	}
	return list
}

func decodeSensors(req Request, items []json.RawMessage) SensorList {
	list := SensorList{Sensors: make([]airquality.Sensor, 0, len(items))}
	for _, item := range items {
		var s sensorData
		if json.Unmarshal(item, &s) != nil {
			continue
		}
		stationID := s.StationID
		if stationID == 0 {
			stationID = req.StationID
		}
		list.Sensors = append(list.Sensors, airquality.Sensor{
			ID:        s.ID,
			StationID: stationID,
			ParamName: s.Param.ParamName,
		})
	}
	return list
}

func decodeObject(req Request, body []byte, loc *time.Location) (Payload, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", airquality.ErrUnrecognizedPayload, err)
	}

	if _, ok := obj["stIndexLevel"]; ok {
		var d indexData
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("%w: index: %v", airquality.ErrUnrecognizedPayload, err)
		}
		info := IndexInfo{Index: airquality.IndexInfo{StationID: d.ID}}
		if info.Index.StationID == 0 {
			info.Index.StationID = req.StationID
		}
		if d.StIndexLevel != nil {
			info.Index.LevelName = d.StIndexLevel.IndexLevelName
		}
		return info, nil
	}

	if _, ok := obj["values"]; ok {
		var d latestData
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("%w: latest value: %v", airquality.ErrUnrecognizedPayload, err)
		}
		return decodeLatest(req, d, loc), nil
	}

	if raw, ok := obj[ArchivalListKey]; ok {
		return decodeArchival(raw, loc)
	}

	return nil, fmt.Errorf("%w: unknown object", airquality.ErrUnrecognizedPayload)
}

func decodeLatest(req Request, d latestData, loc *time.Location) LatestValue {
	for _, v := range d.Values {
		if v.Value == nil {
			continue
		}
		ts, _ := time.ParseInLocation(remoteDateLayout, v.Date, loc)
		return LatestValue{Value: &airquality.LatestValue{
			SensorID:  req.SensorID,
			Key:       d.Key,
			Timestamp: ts,
			Value:     *v.Value,
		}}
	}
	return LatestValue{}
}

func decodeArchival(raw json.RawMessage, loc *time.Location) (Payload, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: archival list: %v", airquality.ErrUnrecognizedPayload, err)
	}

	series := ArchivalSeries{Points: make([]airquality.MeasurementPoint, 0, len(entries))}
	for _, rawEntry := range entries {
		var entry map[string]json.RawMessage
		if json.Unmarshal(rawEntry, &entry) != nil {
			series.Dropped++
			continue
		}
		point, err := parseArchivalEntry(entry, loc)
		if err != nil {
			series.Dropped++
			continue
		}
		series.Points = append(series.Points, point)
	}
	return series, nil
}

// parseArchivalEntry reads one archival record. The API uses Polish keys;
// the English spellings are accepted as well.
func parseArchivalEntry(entry map[string]json.RawMessage, loc *time.Location) (airquality.MeasurementPoint, error) {
	var date string
	if !field(entry, &date, "Data", "Date") {
		return airquality.MeasurementPoint{}, fmt.Errorf("%w: missing date", airquality.ErrMalformedRecord)
	}

	var value *float64
	if !field(entry, &value, "Wartość", "Value") || value == nil {
		return airquality.MeasurementPoint{}, fmt.Errorf("%w: missing value", airquality.ErrMalformedRecord)
	}

	ts, err := time.ParseInLocation(remoteDateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return airquality.MeasurementPoint{}, fmt.Errorf("%w: %v", airquality.ErrMalformedRecord, err)
	}

	return airquality.MeasurementPoint{Timestamp: ts, Value: *value}, nil
}

// field unmarshals the first present key into dst.
func field(entry map[string]json.RawMessage, dst any, keys ...string) bool {
	for _, key := range keys {
		raw, ok := entry[key]
		if !ok {
			continue
		}
		return json.Unmarshal(raw, dst) == nil
	}
	return false
}
