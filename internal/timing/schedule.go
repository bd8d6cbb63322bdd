package timing

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultSpeedKmh is used whenever a caller supplies a non-positive target speed.
const DefaultSpeedKmh = 40.0

// ScheduleTimes holds one scheduled arrival per waypoint; nil means absent.
type ScheduleTimes []*time.Time

// CumulativeSeconds turns per-leg durations into per-waypoint offsets
// [0, l0, l0+l1, ...]. It returns nil when the legs do not describe
// waypointCount waypoints.
func CumulativeSeconds(legDurations []float64, waypointCount int) []float64 {
	if waypointCount == 0 || len(legDurations) != waypointCount-1 {
		return nil
	}
	cum := make([]float64, waypointCount)
	for i, d := range legDurations {
		if d < 0 {
			d = 0
		}
		cum[i+1] = cum[i] + d
	}
	return cum
}

// ComputeScheduleTimes re-targets the provider's pacing to targetKmh.
// The provider's implied average speed (totalDistance/totalDuration) divided
// by the target speed gives a scale factor applied to every cumulative offset.
// Without timing data every entry is absent.
func ComputeScheduleTimes(start time.Time, cumulativeSeconds []float64, totalDistance, totalDuration, targetKmh float64) ScheduleTimes {
	out := make(ScheduleTimes, len(cumulativeSeconds))
	if totalDuration <= 0 || totalDistance <= 0 || len(cumulativeSeconds) == 0 {
		return out
	}
	targetKmh = EffectiveSpeed(targetKmh)
	avgMps := totalDistance / totalDuration
	scale := avgMps / (targetKmh / 3.6)
	for i, sec := range cumulativeSeconds {
		offset := math.Round(sec * scale)
		at := start.Add(time.Duration(offset) * time.Second)
		out[i] = &at
	}
	return out
}

// EffectiveSpeed replaces non-positive or non-finite speeds with DefaultSpeedKmh.
func EffectiveSpeed(kmh float64) float64 {
	if kmh <= 0 || math.IsNaN(kmh) || math.IsInf(kmh, 0) {
		return DefaultSpeedKmh
	}
	return kmh
}

// ApplyManualOverride returns a copy of times where entries whose name is a key
// of overrides are replaced by that time of day on day's date. Overrides that
// do not parse are left out and their keys returned in rejected.
func ApplyManualOverride(times ScheduleTimes, names []string, overrides map[string]string, day time.Time) (out ScheduleTimes, rejected []string) {
	out = make(ScheduleTimes, len(times))
	copy(out, times)
	if len(overrides) == 0 {
		return out, nil
	}
	for i, name := range names {
		if i >= len(out) {
			break
		}
		v, ok := overrides[name]
		if !ok {
			continue
		}
		at, ok := AtClock(day, v)
		if !ok {
			rejected = append(rejected, name)
			continue
		}
		out[i] = &at
	}
	return out, rejected
}

// AtClock places the "HH:MM[:SS]" time of day s on day's date and location.
func AtClock(day time.Time, s string) (time.Time, bool) {
	h, m, sec, ok := ParseClock(s)
	if !ok {
		return time.Time{}, false
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, sec, 0, day.Location()), true
}

// ParseClock parses "HH:MM" or "HH:MM:SS" (24h).
func ParseClock(s string) (hour, min, sec int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, false
	}
	var err error
	if hour, err = strconv.Atoi(parts[0]); err != nil || hour < 0 || hour > 23 {
		return 0, 0, 0, false
	}
	if min, err = strconv.Atoi(parts[1]); err != nil || min < 0 || min > 59 {
		return 0, 0, 0, false
	}
	if len(parts) == 3 {
		if sec, err = strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, 0, 0, false
		}
	}
	return hour, min, sec, true
}
