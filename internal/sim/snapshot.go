package sim

import (
	"context"
	"time"

	"coleta-simulator/internal/geo"
)

// Stop is one waypoint as seen at snapshot time.
type Stop struct {
	Waypoint
	Along     float64 // projected along-path distance
	Ahead     float64 // meters from the truck, 0 once passed
	Passed    bool
	Scheduled *time.Time // nil when no time could be derived
	LiveETA   *time.Time // nil once passed
}

// Snapshot is a consistent copy of the session state for presentation.
type Snapshot struct {
	SessionID string
	Zone      string
	Now       time.Time
	StartTime time.Time

	State     State
	Position  geo.Point
	Bearing   float64
	Segment   int
	SpeedKmh  float64
	Traveled  float64
	Remaining float64
	Total     float64
	ETA       time.Duration

	Next     int // index into Stops, -1 without waypoints
	Stops    []Stop
	Path     []geo.Point
	Fallback bool
	Banner   string
}

func (s *Session) snapshot(withPath bool) Snapshot {
	now := s.now()
	traveled := s.clock.Traveled()
	snap := Snapshot{
		SessionID: s.opts.ID,
		Zone:      s.opts.Zone,
		Now:       now,
		StartTime: s.startTime,
		State:     s.clock.State(),
		Position:  s.clock.Position(),
		Bearing:   s.clock.Index().Bearing(s.clock.Segment()),
		Segment:   s.clock.Segment(),
		SpeedKmh:  s.clock.SpeedKmh(),
		Traveled:  traveled,
		Remaining: s.clock.Remaining(),
		Total:     s.clock.Index().Total(),
		ETA:       s.clock.ETA(),
		Next:      NextWaypoint(s.projection, traveled),
		Fallback:  s.route.Fallback,
		Banner:    s.banner,
	}
	for i, w := range s.waypoints {
		st := Stop{Waypoint: w, Along: s.projection[i]}
		if i < len(s.schedule) {
			st.Scheduled = s.schedule[i]
		}
		if st.Along <= traveled || snap.State == Arrived {
			st.Passed = true
		} else {
			st.Ahead = st.Along - traveled
			eta := now.Add(travelTime(st.Ahead, snap.SpeedKmh))
			st.LiveETA = &eta
		}
		snap.Stops = append(snap.Stops, st)
	}
	if withPath {
		snap.Path = append([]geo.Point(nil), s.clock.Index().Path...)
	}
	return snap
}

// Snapshot returns the current state without the path geometry.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.Do(ctx, func() { snap = s.snapshot(false) })
	return snap, err
}

// RouteSnapshot is Snapshot plus the path currently followed.
func (s *Session) RouteSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.Do(ctx, func() { snap = s.snapshot(true) })
	return snap, err
}

func (s *Session) Pause(ctx context.Context) error  { return s.Do(ctx, s.pause) }
func (s *Session) Resume(ctx context.Context) error { return s.Do(ctx, s.resume) }
func (s *Session) Reset(ctx context.Context) error  { return s.Do(ctx, s.reset) }

// SetSpeed returns the speed in effect afterwards.
func (s *Session) SetSpeed(ctx context.Context, kmh float64) (float64, error) {
	var v float64
	err := s.Do(ctx, func() { v = s.setSpeed(kmh) })
	return v, err
}

// SetStartTime reports whether clock was accepted.
func (s *Session) SetStartTime(ctx context.Context, clock string) (bool, error) {
	var ok bool
	err := s.Do(ctx, func() { ok = s.setStartTime(clock) })
	return ok, err
}

// SetOverrides returns the names whose time did not parse; those keep the
// computed time.
func (s *Session) SetOverrides(ctx context.Context, overrides map[string]string) ([]string, error) {
	var rejected []string
	err := s.Do(ctx, func() { rejected = s.setOverrides(overrides) })
	return rejected, err
}
