package wizard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/wizard"
)

func TestSession_TransitionsDoNotMutate(t *testing.T) {
	stations := []airquality.Station{{ID: 1, Name: "A"}}
	start := wizard.Session{}.WithStations(stations, "")

	next := start.WithStation(stations[0])
	assert.Equal(t, wizard.ChooseStation, start.Step)
	assert.Zero(t, start.StationID)
	assert.Equal(t, wizard.ChooseSensor, next.Step)
	assert.Equal(t, 1, next.StationID)

	stations[0].Name = "changed"
	assert.Equal(t, "A", start.Stations[0].Name, "lists are copied")
}

func TestSession_WithStationClearsDependents(t *testing.T) {
	s := wizard.Session{
		Step:             wizard.ChooseRangeAndGenerate,
		StationID:        1,
		SensorID:         2,
		ParamName:        "PM10",
		IndexLabel:       "Dobry",
		LatestValueLabel: "12",
		Sensors:          []airquality.Sensor{{ID: 2}},
		Report:           &wizard.Report{},
	}

	next := s.WithStation(airquality.Station{ID: 3, Name: "B"})

	assert.Equal(t, wizard.ChooseSensor, next.Step)
	assert.Zero(t, next.SensorID)
	assert.Empty(t, next.ParamName)
	assert.Empty(t, next.IndexLabel)
	assert.Empty(t, next.LatestValueLabel)
	assert.Nil(t, next.Sensors)
	assert.Nil(t, next.Report)
}

func TestSession_Back(t *testing.T) {
	s := wizard.Session{Step: wizard.ChooseRangeAndGenerate, StationID: 5, Notice: "kept"}

	s = s.Back()
	assert.Equal(t, wizard.ChooseSensor, s.Step)
	s = s.Back()
	assert.Equal(t, wizard.ChooseStation, s.Step)
	s = s.Back()
	assert.Equal(t, wizard.ChooseStation, s.Step)
	assert.Equal(t, 5, s.StationID)
	assert.Equal(t, "kept", s.Notice)
}

func TestStep_String(t *testing.T) {
	assert.Equal(t, "choose_station", wizard.ChooseStation.String())
	assert.Equal(t, "choose_sensor", wizard.ChooseSensor.String())
	assert.Equal(t, "choose_range", wizard.ChooseRangeAndGenerate.String())
	assert.Equal(t, "unknown", wizard.Step(9).String())
}
