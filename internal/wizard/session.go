// Package wizard implements the three-step station browser: choose a
// station, choose one of its sensors, then choose a time range and generate
// a report.
package wizard

import (
	"slices"
	"strconv"
	"time"

	"github.com/smogview/smogview/internal/acquisition"
	"github.com/smogview/smogview/internal/airquality"
)

// Step is a wizard step.
type Step int

const (
	ChooseStation Step = iota
	ChooseSensor
	ChooseRangeAndGenerate
)

// String returns the step name.
func (s Step) String() string {
	switch s {
	case ChooseStation:
		return "choose_station"
	case ChooseSensor:
		return "choose_sensor"
	case ChooseRangeAndGenerate:
		return "choose_range"
	default:
		return "unknown"
	}
}

// Notices shown to the user.
const (
	NoticeCachedData     = "network unavailable, loaded cached data"
	NoticeNoStations     = "network unavailable, no cached stations"
	NoticeNoSensors      = "network unavailable, no cached sensors for the selected station"
	NoticeUsingCachedRun = "using cached data"
)

// Report is the outcome of one Generate call. Exactly one of Result and Err
// is set.
type Report struct {
	StationID int
	SensorID  int
	From      time.Time
	To        time.Time
	Result    *acquisition.Result
	Err       error
}

// Status describes where the report data came from.
func (r Report) Status() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.Result.Source == airquality.SourceCache:
		return NoticeUsingCachedRun
	default:
		return "live data"
	}
}

// Session is the wizard state. Transitions return a new value; a Session is
// never modified in place.
type Session struct {
	Step Step

	StationID   int
	StationName string
	SensorID    int
	ParamName   string

	IndexLabel       string
	LatestValueLabel string

	Stations []airquality.Station
	Sensors  []airquality.Sensor

	Notice string
	Report *Report
}

// CanAdvance reports whether a selection is possible on the current step.
func (s Session) CanAdvance() bool {
	switch s.Step {
	case ChooseStation:
		return len(s.Stations) > 0
	case ChooseSensor:
		return len(s.Sensors) > 0
	default:
		return false
	}
}

// Back moves one step back. It has no other effect and issues no requests.
func (s Session) Back() Session {
	if s.Step > ChooseStation {
		s.Step--
	}
	return s
}

// WithStation records a station selection and moves to ChooseSensor.
// Everything that depended on the previous station is cleared.
func (s Session) WithStation(st airquality.Station) Session {
	s.Step = ChooseSensor
	s.StationID = st.ID
	s.StationName = st.Name
	s.SensorID = 0
	s.ParamName = ""
	s.IndexLabel = ""
	s.LatestValueLabel = ""
	s.Sensors = nil
	s.Notice = ""
	s.Report = nil
	return s
}

// WithSensor records a sensor selection and moves to ChooseRangeAndGenerate.
func (s Session) WithSensor(sn airquality.Sensor) Session {
	s.Step = ChooseRangeAndGenerate
	s.SensorID = sn.ID
	s.ParamName = sn.ParamName
	s.LatestValueLabel = ""
	s.Notice = ""
	s.Report = nil
	return s
}

// WithStations replaces the station list.
func (s Session) WithStations(stations []airquality.Station, notice string) Session {
	s.Stations = slices.Clone(stations)
	s.Notice = notice
	return s
}

// WithSensors replaces the sensor list.
func (s Session) WithSensors(sensors []airquality.Sensor, notice string) Session {
	s.Sensors = slices.Clone(sensors)
	s.Notice = notice
	return s
}

// WithIndex records the index label of the selected station.
func (s Session) WithIndex(info airquality.IndexInfo) Session {
	s.IndexLabel = info.LevelName
	return s
}

// WithLatestValue records the latest reading of the selected sensor.
func (s Session) WithLatestValue(v airquality.LatestValue) Session {
	s.LatestValueLabel = strconv.FormatFloat(v.Value, 'g', -1, 64)
	return s
}

// WithReport records a generated report.
func (s Session) WithReport(r Report) Session {
	s.Report = &r
	s.Notice = ""
	if r.Err != nil || r.Result.Source == airquality.SourceCache {
		s.Notice = r.Status()
	}
	return s
}

// WithNotice sets the notice text.
func (s Session) WithNotice(notice string) Session {
	s.Notice = notice
	return s
}

// ForceStep sets the step directly.
func (s Session) ForceStep(step Step) Session {
	s.Step = step
	return s
}
