package sim

import (
	"time"

	"coleta-simulator/internal/geo"
	"coleta-simulator/internal/timing"
)

// ArrivalToleranceMeters: a tick on the last segment ending this close to the
// destination arrives instead of interpolating. Speeds given in km/h rarely
// divide the haversine length of a route, so a tick meant to finish it (for
// example 100 s at 40 km/h over 0.01° of longitude, 1111.1 m of 1111.95 m)
// would otherwise leave the truck creeping for one more tick. Intermediate
// vertices get no tolerance.
const ArrivalToleranceMeters = 1.0

// State is the clock's run state.
type State int

const (
	Running State = iota
	Paused
	Arrived
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Arrived:
		return "arrived"
	}
	return "unknown"
}

// Clock advances a simulated position along an indexed path.
// It is not safe for concurrent use; Session owns it.
type Clock struct {
	index    *geo.Index
	speedKmh float64

	segment  int
	position geo.Point
	state    State
}

// NewClock starts at Path[0] in Running, or Arrived when the path has fewer
// than two points.
func NewClock(index *geo.Index, speedKmh float64) *Clock {
	c := &Clock{index: index, speedKmh: timing.EffectiveSpeed(speedKmh)}
	c.Reset()
	return c
}

func (c *Clock) State() State        { return c.state }
func (c *Clock) Segment() int        { return c.segment }
func (c *Clock) Position() geo.Point { return c.position }
func (c *Clock) SpeedKmh() float64   { return c.speedKmh }
func (c *Clock) Index() *geo.Index   { return c.index }
func (c *Clock) speedMps() float64   { return c.speedKmh / 3.6 }
func (c *Clock) lastIndex() int      { return c.index.Len() - 1 }

// Tick consumes speed*elapsedSeconds meters of travel, crossing as many
// vertices as the budget allows. Budget left over on arrival is dropped.
func (c *Clock) Tick(elapsedSeconds float64) {
	if c.state != Running || elapsedSeconds <= 0 || c.segment >= c.lastIndex() {
		return
	}
	budget := c.speedMps() * elapsedSeconds
	path := c.index.Path
	for c.segment < c.lastIndex() {
		start := path[c.segment]
		end := path[c.segment+1]
		remaining := geo.Distance(c.position, end)
		last := c.segment == c.lastIndex()-1
		if budget < remaining && !(last && remaining-budget <= ArrivalToleranceMeters) {
			segLen := c.index.SegmentLength(c.segment)
			along := geo.Distance(start, c.position) + budget
			c.position = geo.Lerp(start, end, along/segLen)
			return
		}
		c.position = end
		budget -= remaining
		c.segment++
	}
	c.state = Arrived
}

// Pause stops consuming tick budget. No-op once arrived.
func (c *Clock) Pause() {
	if c.state == Running {
		c.state = Paused
	}
}

// Resume continues after Pause. No-op once arrived.
func (c *Clock) Resume() {
	if c.state == Paused {
		c.state = Running
	}
}

// Reset puts the truck back on Path[0].
func (c *Clock) Reset() {
	c.segment = 0
	c.position = geo.Point{}
	if c.index.Len() > 0 {
		c.position = c.index.Path[0]
	}
	c.state = Running
	if c.index.Len() < 2 {
		c.state = Arrived
	}
}

// SetSpeed changes the rate of future ticks. Invalid values keep the last
// good speed, which is returned.
func (c *Clock) SetSpeed(kmh float64) float64 {
	if timing.EffectiveSpeed(kmh) == kmh {
		c.speedKmh = kmh
	}
	return c.speedKmh
}

// Seek places the truck at along-path distance dist. A paused clock stays
// paused; reaching the end arrives.
func (c *Clock) Seek(dist float64) {
	c.segment, c.position = c.index.Locate(dist)
	if c.segment >= c.lastIndex() {
		c.segment = max(c.lastIndex(), 0)
		c.state = Arrived
		return
	}
	if c.state == Arrived {
		c.state = Running
	}
}

// Traveled is the along-path distance covered so far.
func (c *Clock) Traveled() float64 {
	if c.index.Len() == 0 {
		return 0
	}
	return c.index.Cum[c.segment] + geo.Distance(c.index.Path[c.segment], c.position)
}

// Remaining is the along-path distance left to the destination.
func (c *Clock) Remaining() float64 {
	return c.index.RemainingDistance(c.segment, c.position)
}

// ETA is the time to destination at the current speed.
func (c *Clock) ETA() time.Duration {
	return travelTime(c.Remaining(), c.speedKmh)
}

func travelTime(meters, kmh float64) time.Duration {
	if meters <= 0 || kmh <= 0 {
		return 0
	}
	return time.Duration(meters / (kmh / 3.6) * float64(time.Second))
}

// NextWaypoint returns the first waypoint whose projected distance is beyond
// traveled, the last one when all were passed, or -1 without waypoints.
func NextWaypoint(proj geo.Projection, traveled float64) int {
	if len(proj) == 0 {
		return -1
	}
	for i, d := range proj {
		if d > traveled {
			return i
		}
	}
	return len(proj) - 1
}
