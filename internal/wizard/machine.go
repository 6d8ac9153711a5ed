package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/acquisition"
	"github.com/smogview/smogview/internal/airquality"
	"github.com/smogview/smogview/internal/airquality/gios"
	"github.com/smogview/smogview/internal/store"
)

// Machine errors.
var (
	// ErrWrongStep is returned when an action is not available on the current step.
	ErrWrongStep = errors.New("action not available on this step")

	// ErrBusy is returned when a report is already being generated.
	ErrBusy = errors.New("a report is already being generated")

	// ErrUnknownSelection is returned when the selected item is not listed.
	ErrUnknownSelection = errors.New("selection is not in the current list")
)

// Fetcher issues provider requests. Each call delivers exactly one result on
// the returned channel.
type Fetcher interface {
	Fetch(ctx context.Context, req gios.Request) <-chan gios.Result
}

// Acquirer produces measurement series.
type Acquirer interface {
	Acquire(ctx context.Context, req acquisition.Request) (*acquisition.Result, error)
}

// Event is an asynchronous outcome to be applied with Machine.Handle. It is
// either a ResponseEvent or a ReportEvent.
type Event interface {
	event()
}

// ResponseEvent carries the outcome of a provider request.
type ResponseEvent struct {
	Result gios.Result
}

// ReportEvent carries the outcome of a Generate call.
type ReportEvent struct {
	Report Report
}

func (ResponseEvent) event() {}
func (ReportEvent) event()   {}

// Config holds configuration for the wizard machine.
type Config struct {
	Fetcher  Fetcher
	Store    store.Store
	Acquirer Acquirer

	// Location is the zone provider timestamps are read in (default: UTC).
	Location *time.Location

	Logger zerolog.Logger
}

// Machine drives a Session. It is owned by a single control goroutine: all
// methods, including Handle, must be called from that goroutine. Requests
// run on their own goroutines and report back through Events.
type Machine struct {
	fetcher  Fetcher
	store    store.Store
	acquirer Acquirer
	loc      *time.Location
	logger   zerolog.Logger

	session    Session
	generating atomic.Bool
	events     chan Event
}

// NewMachine creates a machine on the ChooseStation step.
func NewMachine(cfg Config) *Machine {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Machine{
		fetcher:  cfg.Fetcher,
		store:    cfg.Store,
		acquirer: cfg.Acquirer,
		loc:      loc,
		logger:   cfg.Logger,
		session:  Session{Step: ChooseStation},
		events:   make(chan Event, 16),
	}
}

// Events returns the channel asynchronous outcomes are delivered on.
func (m *Machine) Events() <-chan Event {
	return m.events
}

// Session returns the current session.
func (m *Machine) Session() Session {
	return m.session
}

// Generating reports whether a Generate call is in flight.
func (m *Machine) Generating() bool {
	return m.generating.Load()
}

// Start requests the station list.
func (m *Machine) Start(ctx context.Context) Session {
	m.issue(ctx, gios.StationsRequest())
	return m.session
}

// SelectStation selects a listed station, requests its index and sensors and
// moves to ChooseSensor without waiting for either.
func (m *Machine) SelectStation(ctx context.Context, stationID int) (Session, error) {
	if m.session.Step != ChooseStation {
		return m.session, ErrWrongStep
	}

	st, ok := find(m.session.Stations, func(s airquality.Station) bool { return s.ID == stationID })
	if !ok {
		return m.session, fmt.Errorf("station %d: %w", stationID, ErrUnknownSelection)
	}

	m.session = m.session.WithStation(st)
	m.issue(ctx, gios.IndexRequest(st.ID))
	m.issue(ctx, gios.SensorsRequest(st.ID))
	return m.session, nil
}

// SelectSensor selects a listed sensor, requests its latest value and moves
// to ChooseRangeAndGenerate.
func (m *Machine) SelectSensor(ctx context.Context, sensorID int) (Session, error) {
	if m.session.Step != ChooseSensor {
		return m.session, ErrWrongStep
	}

	sn, ok := find(m.session.Sensors, func(s airquality.Sensor) bool { return s.ID == sensorID })
	if !ok {
		return m.session, fmt.Errorf("sensor %d: %w", sensorID, ErrUnknownSelection)
	}

	m.session = m.session.WithSensor(sn)
	m.issue(ctx, gios.LatestValueRequest(m.session.StationID, sn.ID))
	return m.session, nil
}

// Back moves one step back.
func (m *Machine) Back() Session {
	m.session = m.session.Back()
	return m.session
}

// Generate starts an acquisition for the selected sensor. The outcome
// arrives as a ReportEvent. Only one acquisition runs at a time. If ctx is
// done before the report is delivered, the report is dropped and the machine
// accepts a new Generate.
func (m *Machine) Generate(ctx context.Context, from, to time.Time) error {
	if m.session.Step != ChooseRangeAndGenerate {
		return ErrWrongStep
	}
	if !m.generating.CompareAndSwap(false, true) {
		return ErrBusy
	}

	req := acquisition.Request{
		StationID: m.session.StationID,
		SensorID:  m.session.SensorID,
		From:      from,
		To:        to,
	}

	go func() {
		res, err := m.acquirer.Acquire(ctx, req)
		report := Report{
			StationID: req.StationID,
			SensorID:  req.SensorID,
			From:      from,
			To:        to,
			Result:    res,
			Err:       err,
		}
		if res != nil {
			report.From, report.To = res.Request.From, res.Request.To
		}
		if !m.deliver(ctx, ReportEvent{Report: report}) {
			m.generating.Store(false)
		}
	}()
	return nil
}

// Handle applies an event to the session and returns the new session.
func (m *Machine) Handle(ev Event) Session {
	switch ev := ev.(type) {
	case ResponseEvent:
		m.session = m.handleResponse(ev.Result)
	case ReportEvent:
		m.generating.Store(false)
		if ev.Report.StationID != m.session.StationID || ev.Report.SensorID != m.session.SensorID {
			m.logger.Debug().Msg("discarding report for a previous selection")
			return m.session
		}
		m.session = m.session.WithReport(ev.Report)
	}
	return m.session
}

func (m *Machine) issue(ctx context.Context, req gios.Request) {
	ch := m.fetcher.Fetch(ctx, req)
	go func() {
		res, ok := <-ch
		if !ok {
			res = gios.Result{Request: req, Err: airquality.ErrNetworkUnavailable}
		}
		m.deliver(ctx, ResponseEvent{Result: res})
	}()
}

// deliver reports whether ev was queued. Nothing is queued once ctx is done.
func (m *Machine) deliver(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// stale reports whether a response answers a selection that is no longer
// current.
func (m *Machine) stale(req gios.Request) bool {
	switch req.Kind {
	case gios.KindSensors, gios.KindIndex:
		return req.StationID != m.session.StationID
	case gios.KindLatestValue:
		return req.StationID != m.session.StationID || req.SensorID != m.session.SensorID
	default:
		return false
	}
}

func (m *Machine) handleResponse(res gios.Result) Session {
	req := res.Request
	if m.stale(req) {
		m.logger.Debug().
			Str("kind", req.Kind.String()).
			Int("station_id", req.StationID).
			Int("sensor_id", req.SensorID).
			Msg("discarding stale response")
		return m.session
	}

	payload, err := m.decode(res)
	if err != nil {
		m.logger.Warn().Err(err).Str("kind", req.Kind.String()).Msg("request failed")
		return m.handleFailure(req)
	}

	switch p := payload.(type) {
	case gios.StationList:
		m.store.MergeStations(context.Background(), p.Stations)
		return m.session.WithStations(named(p.Stations), "")
	case gios.SensorList:
		m.store.MergeSensors(context.Background(), req.StationID, p.Sensors)
		return m.session.WithSensors(p.Sensors, "")
	case gios.IndexInfo:
		return m.session.WithIndex(p.Index)
	case gios.LatestValue:
		return m.session.WithLatestValue(*p.Value)
	default:
		return m.session
	}
}

// decode turns a result into the payload its request expects. A transport
// error, an unreadable body, a payload of the wrong shape and an empty list
// are all failures.
func (m *Machine) decode(res gios.Result) (gios.Payload, error) {
	if res.Err != nil {
		return nil, res.Err
	}

	payload, err := gios.Decode(res.Request, res.Body, m.loc)
	if err != nil {
		return nil, err
	}

	var ok bool
	switch p := payload.(type) {
	case gios.StationList:
		ok = res.Request.Kind == gios.KindStations && len(p.Stations) > 0
	case gios.SensorList:
		ok = res.Request.Kind == gios.KindSensors && len(p.Sensors) > 0
	case gios.IndexInfo:
		ok = res.Request.Kind == gios.KindIndex
	case gios.LatestValue:
		ok = res.Request.Kind == gios.KindLatestValue && p.Value != nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: %T for %s", airquality.ErrUnrecognizedPayload, payload, res.Request.Kind)
	}
	return payload, nil
}

func (m *Machine) handleFailure(req gios.Request) Session {
	ctx := context.Background()

	switch req.Kind {
	case gios.KindStations:
		cached := m.store.LoadStations(ctx)
		if len(cached) == 0 {
			return m.session.WithStations(nil, NoticeNoStations)
		}
		return m.session.WithStations(named(cached), NoticeCachedData)

	case gios.KindSensors:
		cached := m.store.LoadSensors(ctx, req.StationID)
		if len(cached) == 0 {
			return m.session.WithSensors(nil, NoticeNoSensors).ForceStep(ChooseStation)
		}
		return m.session.WithSensors(cached, NoticeCachedData)

	default:
		// Index and latest value are informational.
		return m.session
	}
}

// named drops stations without a name.
func named(stations []airquality.Station) []airquality.Station {
	out := make([]airquality.Station, 0, len(stations))
	for _, s := range stations {
		if s.Name != "" {
			out = append(out, s)
		}
	}
	return out
}

func find[T any](items []T, match func(T) bool) (T, bool) {
	for _, item := range items {
		if match(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}
