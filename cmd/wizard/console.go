package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/smogview/smogview/internal/wizard"
)

// rangeLayout is the layout of the from/to entries.
const rangeLayout = "2006-01-02 15:04"

// defaultRange is the window generated when no range is entered.
const defaultRange = 24 * time.Hour

// console drives a wizard.Machine from text commands. It is not safe for
// concurrent use; run owns it.
type console struct {
	machine *wizard.Machine
	out     io.Writer
	loc     *time.Location
	now     func() time.Time

	session    wizard.Session
	lastReport *wizard.Report
}

func newConsole(m *wizard.Machine, out io.Writer, loc *time.Location, now func() time.Time) *console {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &console{machine: m, out: out, loc: loc, now: now}
}

// run starts the wizard and processes events and input lines until the
// input ends, "q" is entered or ctx is done.
func (c *console) run(ctx context.Context, lines <-chan string) error {
	c.start(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.machine.Events():
			c.handle(ev)
		case line, ok := <-lines:
			if !ok || c.apply(ctx, line) {
				return nil
			}
		}
	}
}

func (c *console) start(ctx context.Context) {
	c.session = c.machine.Start(ctx)
	fmt.Fprintln(c.out, "loading stations...")
}

func (c *console) handle(ev wizard.Event) {
	prev := c.session
	c.session = c.machine.Handle(ev)

	if r := c.session.Report; r != nil && r != c.lastReport {
		c.lastReport = r
		writeReport(c.out, *r, c.loc)
		c.prompt()
		return
	}
	if c.changed(prev) {
		c.render()
	}
}

// changed reports whether the session differs from prev in a way worth
// redrawing.
func (c *console) changed(prev wizard.Session) bool {
	s := c.session
	return s.Step != prev.Step ||
		s.Notice != prev.Notice ||
		len(s.Stations) != len(prev.Stations) ||
		len(s.Sensors) != len(prev.Sensors) ||
		s.IndexLabel != prev.IndexLabel ||
		s.LatestValueLabel != prev.LatestValueLabel
}

// apply runs one input line and reports whether the console should quit.
func (c *console) apply(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)

	switch line {
	case "q", "quit":
		return true
	case "b", "back":
		c.session = c.machine.Back()
		c.render()
		return false
	case "r", "reload":
		if c.session.Step == wizard.ChooseStation {
			c.start(ctx)
			return false
		}
	}

	switch c.session.Step {
	case wizard.ChooseStation:
		c.selectStation(ctx, line)
	case wizard.ChooseSensor:
		c.selectSensor(ctx, line)
	case wizard.ChooseRangeAndGenerate:
		c.generate(ctx, line)
	}
	return false
}

func (c *console) selectStation(ctx context.Context, line string) {
	n, ok := c.choice(line, len(c.session.Stations))
	if !ok {
		return
	}
	s, err := c.machine.SelectStation(ctx, c.session.Stations[n].ID)
	if err != nil {
		fmt.Fprintf(c.out, "cannot select station: %v\n", err)
		return
	}
	c.session = s
	c.render()
}

func (c *console) selectSensor(ctx context.Context, line string) {
	n, ok := c.choice(line, len(c.session.Sensors))
	if !ok {
		return
	}
	s, err := c.machine.SelectSensor(ctx, c.session.Sensors[n].ID)
	if err != nil {
		fmt.Fprintf(c.out, "cannot select sensor: %v\n", err)
		return
	}
	c.session = s
	c.render()
}

func (c *console) generate(ctx context.Context, line string) {
	from, to, err := parseRange(line, c.loc, c.now())
	if err != nil {
		fmt.Fprintf(c.out, "invalid range: %v\n", err)
		return
	}

	if err := c.machine.Generate(ctx, from, to); err != nil {
		if errors.Is(err, wizard.ErrBusy) {
			fmt.Fprintln(c.out, "a report is already being generated")
			return
		}
		fmt.Fprintf(c.out, "cannot generate report: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "generating report for %s - %s...\n", from.In(c.loc).Format(rangeLayout), to.In(c.loc).Format(rangeLayout))
}

// choice parses a 1-based list number into an index.
func (c *console) choice(line string, n int) (int, bool) {
	if n == 0 {
		fmt.Fprintln(c.out, "nothing to choose from yet")
		return 0, false
	}
	i, err := strconv.Atoi(line)
	if err != nil || i < 1 || i > n {
		fmt.Fprintf(c.out, "enter a number between 1 and %d\n", n)
		return 0, false
	}
	return i - 1, true
}

func (c *console) render() {
	s := c.session
	fmt.Fprintln(c.out)
	if s.Notice != "" {
		fmt.Fprintf(c.out, "! %s\n", s.Notice)
	}

	switch s.Step {
	case wizard.ChooseStation:
		fmt.Fprintln(c.out, "Step 1/3: choose a station")
		for i, st := range s.Stations {
			fmt.Fprintf(c.out, "%4d) %s\n", i+1, st.Name)
		}
	case wizard.ChooseSensor:
		fmt.Fprintf(c.out, "Step 2/3: choose a sensor of %s\n", s.StationName)
		if s.IndexLabel != "" {
			fmt.Fprintf(c.out, "air quality index: %s\n", s.IndexLabel)
		}
		for i, sn := range s.Sensors {
			fmt.Fprintf(c.out, "%4d) %s\n", i+1, sn.ParamName)
		}
	case wizard.ChooseRangeAndGenerate:
		fmt.Fprintf(c.out, "Step 3/3: %s, %s\n", s.StationName, s.ParamName)
		if s.LatestValueLabel != "" {
			fmt.Fprintf(c.out, "latest value: %s\n", s.LatestValueLabel)
		}
	}
	c.prompt()
}

func (c *console) prompt() {
	switch c.session.Step {
	case wizard.ChooseStation:
		fmt.Fprint(c.out, "number, r to reload, q to quit> ")
	case wizard.ChooseSensor:
		fmt.Fprint(c.out, "number, b to go back, q to quit> ")
	case wizard.ChooseRangeAndGenerate:
		fmt.Fprintf(c.out, "from[;to] as %q, empty for the last 24h, b to go back> ", "yyyy-MM-dd HH:mm")
	}
}

// parseRange reads "from;to", "from" or an empty line. A missing from is
// defaultRange before to; a missing to is now.
func parseRange(line string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	to := now
	fromText, toText, hasTo := strings.Cut(strings.TrimSpace(line), ";")
	fromText, toText = strings.TrimSpace(fromText), strings.TrimSpace(toText)

	if hasTo && toText != "" {
		t, err := time.ParseInLocation(rangeLayout, toText, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
		}
		to = t
	}

	from := to.Add(-defaultRange)
	if fromText != "" {
		t, err := time.ParseInLocation(rangeLayout, fromText, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
		}
		from = t
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, errors.New("from is after to")
	}
	return from, to, nil
}

func writeReport(w io.Writer, r wizard.Report, loc *time.Location) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Report: station %d, sensor %d, %s - %s\n",
		r.StationID, r.SensorID, r.From.In(loc).Format(rangeLayout), r.To.In(loc).Format(rangeLayout))
	fmt.Fprintf(w, "status: %s\n", r.Status())
	if r.Err != nil || r.Result == nil {
		return
	}

	st := r.Result.Stats
	fmt.Fprintf(w, "points: %d\n", st.Count)
	if st.Count > 0 {
		fmt.Fprintf(w, "min: %.2f at %s\n", st.Min, st.MinTime.In(loc).Format(rangeLayout))
		fmt.Fprintf(w, "max: %.2f at %s\n", st.Max, st.MaxTime.In(loc).Format(rangeLayout))
		fmt.Fprintf(w, "avg: %.2f\n", st.Average)
		fmt.Fprintf(w, "trend: %s\n", st.Trend)
	}
	for _, p := range r.Result.Points {
		fmt.Fprintf(w, "  %s  %8.2f\n", p.Timestamp.In(loc).Format(rangeLayout), p.Value)
	}
}
