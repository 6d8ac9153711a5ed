// Package acquisition retrieves measurement series for a sensor and a time
// window, preferring the provider and falling back to the local cache.
package acquisition

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/smogview/smogview/internal/airquality"
)

// FilterRange returns the points with from <= timestamp <= to, sorted
// ascending by timestamp. Points with equal timestamps keep their input
// order. The input slice is not modified.
func FilterRange(points []airquality.MeasurementPoint, from, to time.Time) []airquality.MeasurementPoint {
	out := make([]airquality.MeasurementPoint, 0, len(points))
	for _, p := range points {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Trend is the direction of a series from its first to its last value.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendFlat    Trend = "flat"
)

// Statistics summarises a series.
type Statistics struct {
	Count   int
	Min     float64
	MinTime time.Time
	Max     float64
	MaxTime time.Time
	Average float64
	Trend   Trend
}

// Summarize computes statistics over points in their given order. On ties
// the first occurrence of the minimum and maximum is reported. An empty
// series yields the zero value.
func Summarize(points []airquality.MeasurementPoint) Statistics {
	if len(points) == 0 {
		return Statistics{}
	}

	st := Statistics{
		Count:   len(points),
		Min:     points[0].Value,
		MinTime: points[0].Timestamp,
		Max:     points[0].Value,
		MaxTime: points[0].Timestamp,
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
		if p.Value < st.Min {
			st.Min, st.MinTime = p.Value, p.Timestamp
		}
		if p.Value > st.Max {
			st.Max, st.MaxTime = p.Value, p.Timestamp
		}
	}
	st.Average = stat.Mean(values, nil)

	first, last := points[0].Value, points[len(points)-1].Value
	switch {
	case last > first:
		st.Trend = TrendRising
	case last < first:
		st.Trend = TrendFalling
	default:
		st.Trend = TrendFlat
	}
	return st
}
