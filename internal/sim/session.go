package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coleta-simulator/internal/geo"
	mmetrics "coleta-simulator/internal/metrics"
	"coleta-simulator/internal/publisher"
	"coleta-simulator/internal/routing"
	"coleta-simulator/internal/timing"
)

var (
	// ErrStopped is returned by session calls once Run has returned.
	ErrStopped = errors.New("simulation session stopped")
	// ErrFault wraps a panic recovered while running a command.
	ErrFault   = errors.New("simulation fault")
)

// Waypoint is a named stop on the route. Name is its identity for overrides.
type Waypoint struct {
	Name      string    `json:"name"`
	Zone      string    `json:"zone"`
	Point     geo.Point `json:"point"`
	Scheduled string    `json:"scheduled,omitempty"` // configured HH:MM, if any
}

// Publisher receives one position per tick.
type Publisher interface {
	PublishPosition(msg publisher.PositionMessage) error
}

type Options struct {
	ID              string
	Zone            string
	TickInterval    time.Duration
	SpeedMultiplier float64
	SpeedKmh        float64
	Location        *time.Location
	Overrides       map[string]string
	StartClock      string // "HH:MM" start time; empty or invalid means now
	Now             func() time.Time
}

type routeResult struct {
	route *routing.Route
	err   error
	took  time.Duration
}

// Session owns every piece of mutable simulation state. All of it is touched
// only from the Run goroutine; other goroutines go through Do.
type Session struct {
	opts     Options
	provider routing.Provider
	pub      Publisher
	metrics  *mmetrics.Collector

	waypoints []Waypoint
	names     []string
	points    []geo.Point

	route      *routing.Route
	clock      *Clock
	projection geo.Projection
	startTime  time.Time
	overrides  map[string]string
	schedule   timing.ScheduleTimes
	banner     string

	cmds    chan func()
	routeCh chan routeResult
	done    chan struct{}
}

func NewSession(waypoints []Waypoint, provider routing.Provider, pub Publisher, metrics *mmetrics.Collector, opts Options) *Session {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.SpeedMultiplier <= 0 {
		opts.SpeedMultiplier = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Session{
		opts:      opts,
		provider:  provider,
		pub:       pub,
		metrics:   metrics,
		waypoints: waypoints,
		overrides: copyOverrides(opts.Overrides),
		cmds:      make(chan func()),
		routeCh:   make(chan routeResult, 1),
		done:      make(chan struct{}),
	}
	for _, w := range waypoints {
		s.names = append(s.names, w.Name)
		s.points = append(s.points, w.Point)
	}
	s.startTime = s.now()
	if at, ok := timing.AtClock(s.startTime, opts.StartClock); ok {
		s.startTime = at
	}
	s.route = routing.Fallback(s.points)
	s.clock = NewClock(geo.NewIndex(s.route.Path), opts.SpeedKmh)
	s.rebuild()
	return s
}

func (s *Session) ID() string { return s.opts.ID }

func (s *Session) now() time.Time { return s.opts.Now().In(s.opts.Location) }

// Run drives the session until ctx is cancelled. The route is fetched in the
// background; until it arrives the truck follows straight lines between
// waypoints.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	log.Printf("starting session %s (zone %s, %d waypoints, %.0f km/h)", s.opts.ID, s.opts.Zone, len(s.waypoints), s.clock.SpeedKmh())
	go s.loadRoute(ctx)

	tick := time.NewTicker(s.opts.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("session %s stopped", s.opts.ID)
			return ctx.Err()
		case res := <-s.routeCh:
			s.guard("route", func() { s.applyRoute(res) })
		case fn := <-s.cmds:
			fn()
		case <-tick.C:
			s.guard("tick", s.tick)
		}
	}
}

func (s *Session) loadRoute(ctx context.Context) {
	start := time.Now()
	r, err := routing.Resolve(ctx, s.provider, s.points)
	select {
	case s.routeCh <- routeResult{route: r, err: err, took: time.Since(start)}:
	case <-ctx.Done():
	}
}

// guard keeps a fault inside one handler from killing the loop; the fault is
// shown as the banner instead and returned wrapped in ErrFault.
func (s *Session) guard(what string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session %s: recovered %s fault: %v", s.opts.ID, what, r)
			s.banner = fmt.Sprintf("falha interna: %v", r)
			if s.metrics != nil {
				s.metrics.RecoveredFault.Inc()
			}
			err = fmt.Errorf("%w: %s", ErrFault, s.banner)
		}
	}()
	fn()
	return nil
}

// Do runs fn on the session goroutine and waits for it. ctx only bounds the
// wait for the loop to accept fn: once accepted, fn may write the caller's
// variables, so Do returns only after it has finished.
func (s *Session) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	var err error
	wrapped := func() {
		defer close(done)
		err = s.guard("command", fn)
	}
	select {
	case s.cmds <- wrapped:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return err
}

func (s *Session) tick() {
	tickStart := time.Now()
	wasArrived := s.clock.State() == Arrived
	s.clock.Tick(s.opts.TickInterval.Seconds() * s.opts.SpeedMultiplier)
	if !wasArrived && s.clock.State() == Arrived {
		log.Printf("session %s arrived at %s", s.opts.ID, s.lastName())
		if s.metrics != nil {
			s.metrics.Arrivals.Inc()
		}
	}
	s.publish()
	if s.metrics != nil {
		s.metrics.Ticks.Inc()
		s.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
	}
}

func (s *Session) publish() {
	total := s.clock.Index().Total()
	traveled := s.clock.Traveled()
	progress := 1.0
	if total > 0 {
		progress = traveled / total
	}
	if s.metrics != nil {
		s.metrics.Progress.Set(progress)
		s.metrics.RemainingMeters.Set(s.clock.Remaining())
		s.metrics.SpeedKmh.Set(s.clock.SpeedKmh())
	}
	if s.pub == nil {
		return
	}
	next := ""
	if i := NextWaypoint(s.projection, traveled); i >= 0 {
		next = s.names[i]
	}
	pos := s.clock.Position()
	msg := publisher.PositionMessage{
		SessionID:  s.opts.ID,
		Zone:       s.opts.Zone,
		Timestamp:  s.now(),
		Lat:        pos.Lat,
		Lng:        pos.Lng,
		Bearing:    s.clock.Index().Bearing(s.clock.Segment()),
		Progress:   progress,
		SpeedKmh:   s.clock.SpeedKmh(),
		State:      s.clock.State().String(),
		Segment:    s.clock.Segment(),
		NextStop:   next,
		RemainingM: s.clock.Remaining(),
		ETASeconds: s.clock.ETA().Seconds(),
		Fallback:   s.route.Fallback,
	}
	if err := s.pub.PublishPosition(msg); err != nil {
		log.Printf("publish error for %s: %v", s.opts.ID, err)
	}
}

// applyRoute swaps in a freshly loaded route and re-anchors the truck onto it
// by projecting its current position.
func (s *Session) applyRoute(res routeResult) {
	if s.metrics != nil {
		s.metrics.RouteFetchTime.Observe(res.took.Seconds())
	}
	if res.err != nil {
		log.Printf("route fetch error for %s: %v (using straight lines)", s.opts.ID, res.err)
		s.banner = "rota indisponível: " + res.err.Error()
	}
	if res.route == nil || res.route.Fallback {
		if s.metrics != nil {
			s.metrics.RouteFetches.WithLabelValues("fallback").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RouteFetches.WithLabelValues("ok").Inc()
	}

	prev := s.clock
	index := geo.NewIndex(res.route.Path)
	next := NewClock(index, prev.SpeedKmh())
	switch prev.State() {
	case Arrived:
		next.Seek(index.Total())
	default:
		next.Seek(index.DistanceTraveled(prev.Position()))
		if prev.State() == Paused {
			next.Pause()
		}
	}
	s.route = res.route
	s.clock = next
	s.rebuild()
	log.Printf("session %s route loaded: %d points, %.0f m, %.0f s", s.opts.ID, len(res.route.Path), res.route.TotalDistance, res.route.TotalDuration)
}

// rebuild re-derives the waypoint projection and the schedule after the path
// changed.
func (s *Session) rebuild() {
	s.projection = s.clock.Index().ProjectWaypoints(s.points)
	s.recompute()
}

// recompute derives ScheduleTimes from the start time and current speed and
// reapplies manual overrides on top.
func (s *Session) recompute() {
	cum := timing.CumulativeSeconds(s.route.LegDurations, len(s.waypoints))
	times := timing.ComputeScheduleTimes(s.startTime, cum, s.route.TotalDistance, s.route.TotalDuration, s.clock.SpeedKmh())
	if len(times) != len(s.waypoints) {
		times = make(timing.ScheduleTimes, len(s.waypoints))
	}
	times, rejected := timing.ApplyManualOverride(times, s.names, s.overrides, s.startTime)
	for _, name := range rejected {
		log.Printf("session %s: ignoring unparseable override for %q: %q", s.opts.ID, name, s.overrides[name])
	}
	s.schedule = times
}

func (s *Session) lastName() string {
	if len(s.names) == 0 {
		return ""
	}
	return s.names[len(s.names)-1]
}

func (s *Session) pause()  { s.clock.Pause() }
func (s *Session) resume() { s.clock.Resume() }

func (s *Session) reset() {
	s.clock.Reset()
	s.recompute()
	if s.metrics != nil {
		s.metrics.Resets.Inc()
	}
}

func (s *Session) setSpeed(kmh float64) float64 {
	v := s.clock.SetSpeed(kmh)
	s.recompute()
	return v
}

// setStartTime accepts "HH:MM[:SS]" for today; anything else keeps the last
// good start time.
func (s *Session) setStartTime(clock string) bool {
	at, ok := timing.AtClock(s.now(), clock)
	if !ok {
		return false
	}
	s.startTime = at
	s.recompute()
	return true
}

// setOverrides replaces the manual overrides and returns the names whose
// value did not parse.
func (s *Session) setOverrides(overrides map[string]string) []string {
	s.overrides = copyOverrides(overrides)
	s.recompute()
	var rejected []string
	for name, v := range s.overrides {
		if _, _, _, ok := timing.ParseClock(v); !ok {
			rejected = append(rejected, name)
		}
	}
	return rejected
}

func copyOverrides(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
