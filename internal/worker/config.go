// Package worker provides background cache refresh for SmogView.
package worker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RefreshTarget is a station whose reference data and series are kept warm.
type RefreshTarget struct {
	// StationID is the station to refresh.
	StationID int

	// SensorIDs are the series to refresh. If empty, every sensor the
	// station reports is refreshed.
	SensorIDs []int

	// Priority determines refresh order (lower = higher priority).
	Priority int
}

// RefreshConfig holds configuration for the cache refresh job.
type RefreshConfig struct {
	// Targets are the stations to refresh. The station list itself is
	// refreshed regardless.
	Targets []RefreshTarget

	// Concurrency is the number of concurrent station refreshes.
	// Default: 3
	Concurrency int

	// Timeout is the timeout for each station refresh.
	// Default: 30 seconds
	Timeout time.Duration

	// Window is the trailing period of measurements fetched per series.
	// Default: 24 hours
	Window time.Duration

	// RefreshStations enables the station list refresh.
	// Default: true
	RefreshStations bool

	// RefreshMeasurements enables series refresh for the targets.
	// Default: true
	RefreshMeasurements bool
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Concurrency:         3,
		Timeout:             30 * time.Second,
		Window:              24 * time.Hour,
		RefreshStations:     true,
		RefreshMeasurements: true,
	}
}

// withDefaults fills zero values from DefaultRefreshConfig.
func (c RefreshConfig) withDefaults() RefreshConfig {
	d := DefaultRefreshConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}

// OrderedTargets returns the targets sorted by priority, keeping the
// configured order within a priority.
func (c RefreshConfig) OrderedTargets() []RefreshTarget {
	targets := append([]RefreshTarget(nil), c.Targets...)
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Priority < targets[j].Priority
	})
	return targets
}

// ParseTargets parses a target list of the form "114:642,644;117".
// Each entry is a station id optionally followed by a colon and a comma
// separated list of sensor ids. Entries get increasing priority in the order
// given.
func ParseTargets(s string) ([]RefreshTarget, error) {
	var targets []RefreshTarget
	for i, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		stationPart, sensorPart, hasSensors := strings.Cut(entry, ":")
		stationID, err := strconv.Atoi(strings.TrimSpace(stationPart))
		if err != nil {
			return nil, fmt.Errorf("invalid station id %q: %w", stationPart, err)
		}

		target := RefreshTarget{StationID: stationID, Priority: i + 1}
		if hasSensors {
			for _, raw := range strings.Split(sensorPart, ",") {
				raw = strings.TrimSpace(raw)
				if raw == "" {
					continue
				}
				sensorID, err := strconv.Atoi(raw)
				if err != nil {
					return nil, fmt.Errorf("invalid sensor id %q for station %d: %w", raw, stationID, err)
				}
				target.SensorIDs = append(target.SensorIDs, sensorID)
			}
		}
		targets = append(targets, target)
	}
	return targets, nil
}
