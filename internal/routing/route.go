package routing

import (
	"context"

	"coleta-simulator/internal/geo"
)

// SnapToleranceMeters is how far a routed path may start or end from the
// first/last waypoint before the waypoint is added to the path.
const SnapToleranceMeters = 25.0

// Route is an expanded path for an ordered waypoint list.
type Route struct {
	Path          []geo.Point `json:"path"`
	LegDurations  []float64   `json:"legDurations,omitempty"` // seconds, one per waypoint pair
	LegDistances  []float64   `json:"legDistances,omitempty"` // meters
	TotalDistance float64     `json:"totalDistance"`          // meters
	TotalDuration float64     `json:"totalDuration"`          // seconds, 0 when unknown
	Fallback      bool        `json:"fallback"`
}

// HasTiming reports whether the route carries provider timing data.
func (r *Route) HasTiming() bool {
	return r.TotalDuration > 0 && r.TotalDistance > 0 && len(r.LegDurations) > 0
}

// Provider expands waypoints into a routed path.
type Provider interface {
	FetchExpandedRoute(ctx context.Context, waypoints []geo.Point) (*Route, error)
}

// Fallback treats the waypoints themselves as the path, without timing.
func Fallback(waypoints []geo.Point) *Route {
	path := make([]geo.Point, len(waypoints))
	copy(path, waypoints)
	total := 0.0
	for i := 1; i < len(path); i++ {
		total += geo.Distance(path[i-1], path[i])
	}
	return &Route{Path: path, TotalDistance: total, Fallback: true}
}

// Resolve asks p for a route exactly once. On any failure it returns the
// straight-line fallback together with the provider error, so callers can keep
// simulating and surface the error as a warning.
func Resolve(ctx context.Context, p Provider, waypoints []geo.Point) (*Route, error) {
	if p == nil || len(waypoints) < 2 {
		return Fallback(waypoints), nil
	}
	r, err := p.FetchExpandedRoute(ctx, waypoints)
	if err != nil {
		return Fallback(waypoints), err
	}
	if r == nil || len(r.Path) == 0 {
		return Fallback(waypoints), ErrEmptyRoute
	}
	return r, nil
}

// snapEnds makes sure path starts and ends on the first and last waypoint.
func snapEnds(path []geo.Point, waypoints []geo.Point) []geo.Point {
	if len(waypoints) == 0 {
		return path
	}
	first := waypoints[0]
	last := waypoints[len(waypoints)-1]
	if len(path) == 0 || !path[0].Near(first, SnapToleranceMeters) {
		path = append([]geo.Point{first}, path...)
	}
	if !path[len(path)-1].Near(last, SnapToleranceMeters) {
		path = append(path, last)
	}
	return path
}
