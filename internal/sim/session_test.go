package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coleta-simulator/internal/geo"
	"coleta-simulator/internal/metrics"
	"coleta-simulator/internal/publisher"
	"coleta-simulator/internal/routing"
)

var (
	testNow   = time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	testStops = []Waypoint{
		{Name: "bairroA", Zone: "Centro", Point: geo.Point{Lat: 0, Lng: 0}},
		{Name: "bairroB", Zone: "Centro", Point: geo.Point{Lat: 0, Lng: 0.005}},
		{Name: "bairroC", Zone: "Centro", Point: geo.Point{Lat: 0, Lng: 0.01}},
	}
)

type failingProvider struct{ err error }

func (f failingProvider) FetchExpandedRoute(context.Context, []geo.Point) (*routing.Route, error) {
	return nil, f.err
}

type recordingPublisher struct{ msgs []publisher.PositionMessage }

func (r *recordingPublisher) PublishPosition(msg publisher.PositionMessage) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func newTestSession(provider routing.Provider, pub Publisher, m *metrics.Collector) *Session {
	return NewSession(testStops, provider, pub, m, Options{
		ID:           "test",
		Zone:         "Centro",
		TickInterval: 10 * time.Millisecond,
		SpeedKmh:     40,
		Location:     time.UTC,
		Now:          func() time.Time { return testNow },
	})
}

// routedRoute follows the same line as the waypoints with extra vertices and
// provider timing of 50 s per leg.
func routedRoute() *routing.Route {
	return &routing.Route{
		Path: []geo.Point{
			{Lat: 0, Lng: 0}, {Lat: 0, Lng: 0.0025}, {Lat: 0, Lng: 0.005},
			{Lat: 0, Lng: 0.0075}, {Lat: 0, Lng: 0.01},
		},
		LegDurations:  []float64{50, 50},
		LegDistances:  []float64{555.97, 555.97},
		TotalDistance: 1111.95,
		TotalDuration: 100,
	}
}

func TestSession_KeepsMovingWhenRoutingFails(t *testing.T) {
	s := NewSession(testStops, failingProvider{err: errors.New("network down")}, nil, nil, Options{
		ID:              "fallback",
		TickInterval:    10 * time.Millisecond,
		SpeedMultiplier: 60,
		SpeedKmh:        40,
	})
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	var snap Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = s.Snapshot(ctx)
		return err == nil && snap.Traveled > 0 && snap.Banner != ""
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, snap.Fallback)
	assert.Contains(t, snap.Banner, "network down")
	require.Len(t, snap.Stops, 3)
	for _, st := range snap.Stops {
		assert.Nil(t, st.Scheduled, st.Name)
	}

	route, err := s.RouteSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []geo.Point{testStops[0].Point, testStops[1].Point, testStops[2].Point}, route.Path)

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
	assert.ErrorIs(t, s.Pause(context.Background()), ErrStopped)
}

func TestSession_RoutedPathReanchorsTruck(t *testing.T) {
	s := newTestSession(nil, nil, nil)
	s.clock.Seek(300)
	s.pause()

	s.applyRoute(routeResult{route: routedRoute()})

	assert.False(t, s.route.Fallback)
	assert.Equal(t, 5, s.clock.Index().Len())
	assert.InDelta(t, 300, s.clock.Traveled(), 1)
	assert.Equal(t, Paused, s.clock.State())

	require.Len(t, s.schedule, 3)
	require.NotNil(t, s.schedule[0])
	assert.Equal(t, testNow, *s.schedule[0])
	assert.Equal(t, testNow.Add(50*time.Second), *s.schedule[1])
	assert.Equal(t, testNow.Add(100*time.Second), *s.schedule[2])
	assert.InDeltaSlice(t, []float64{0, 555.97, 1111.95}, []float64(s.projection), 0.5)
}

func TestSession_RoutedPathAfterArrivalStaysArrived(t *testing.T) {
	s := newTestSession(nil, nil, nil)
	s.clock.Tick(1000)
	require.Equal(t, Arrived, s.clock.State())

	s.applyRoute(routeResult{route: routedRoute()})
	assert.Equal(t, Arrived, s.clock.State())
	assert.Equal(t, geo.Point{Lat: 0, Lng: 0.01}, s.clock.Position())
}

func TestSession_FailedRouteKeepsFallback(t *testing.T) {
	m := metrics.NewCollector(1, time.Second)
	s := newTestSession(nil, nil, m)
	fb := routing.Fallback([]geo.Point{testStops[0].Point, testStops[1].Point, testStops[2].Point})

	s.applyRoute(routeResult{route: fb, err: errors.New("timeout")})

	assert.True(t, s.route.Fallback)
	assert.Equal(t, "rota indisponível: timeout", s.banner)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RouteFetches.WithLabelValues("fallback")))
}

func TestSession_SpeedRescalesSchedule(t *testing.T) {
	s := newTestSession(nil, nil, nil)
	s.applyRoute(routeResult{route: routedRoute()})

	assert.Equal(t, 20.0, s.setSpeed(20))
	// half the speed, twice the time
	assert.Equal(t, testNow.Add(200*time.Second), *s.schedule[2])

	assert.Equal(t, 20.0, s.setSpeed(-1))
	assert.Equal(t, testNow.Add(200*time.Second), *s.schedule[2])
}

func TestSession_ManualOverride(t *testing.T) {
	s := newTestSession(nil, nil, nil)
	s.applyRoute(routeResult{route: routedRoute()})

	rejected := s.setOverrides(map[string]string{"bairroA": "10:30", "bairroC": "25:99"})
	assert.Equal(t, []string{"bairroC"}, rejected)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC), *s.schedule[0])
	assert.Equal(t, testNow.Add(100*time.Second), *s.schedule[2])

	// recomputation reapplies the stored overrides
	s.setSpeed(80)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC), *s.schedule[0])
	s.reset()
	assert.Equal(t, time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC), *s.schedule[0])

	assert.Empty(t, s.setOverrides(nil))
	assert.Equal(t, testNow, *s.schedule[0])
}

func TestSession_SetStartTime(t *testing.T) {
	s := newTestSession(nil, nil, nil)
	s.applyRoute(routeResult{route: routedRoute()})

	assert.False(t, s.setStartTime("7h30"))
	assert.Equal(t, testNow, s.startTime)

	assert.True(t, s.setStartTime("08:15"))
	start := time.Date(2026, 3, 10, 8, 15, 0, 0, time.UTC)
	assert.Equal(t, start, s.startTime)
	assert.Equal(t, start.Add(50*time.Second), *s.schedule[1])
}

func TestSession_TickPublishesPosition(t *testing.T) {
	pub := &recordingPublisher{}
	m := metrics.NewCollector(1, time.Second)
	s := newTestSession(nil, pub, m)

	s.tick()

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "test", msg.SessionID)
	assert.Equal(t, "Centro", msg.Zone)
	assert.Equal(t, "running", msg.State)
	assert.Equal(t, "bairroB", msg.NextStop)
	assert.True(t, msg.Fallback)
	assert.InDelta(t, 90, msg.Bearing, 0.01)
	assert.Greater(t, msg.Progress, 0.0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ticks))
}

func TestSession_ArrivalCountedOnce(t *testing.T) {
	m := metrics.NewCollector(1, time.Second)
	s := newTestSession(nil, nil, m)
	s.opts.SpeedMultiplier = 1e6

	s.tick()
	s.tick()

	assert.Equal(t, Arrived, s.clock.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Arrivals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Progress))
}

func TestSession_GuardRecoversFaults(t *testing.T) {
	m := metrics.NewCollector(1, time.Second)
	s := newTestSession(nil, nil, m)

	var err error
	assert.NotPanics(t, func() {
		err = s.guard("tick", func() { panic("boom") })
	})
	assert.ErrorIs(t, err, ErrFault)
	assert.Equal(t, "falha interna: boom", s.banner)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecoveredFault))
	assert.NoError(t, s.guard("tick", func() {}))
}

func runTestSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSession_DoReportsCommandFault(t *testing.T) {
	s := newTestSession(nil, nil, nil)
	runTestSession(t, s)

	err := s.Do(context.Background(), func() { panic("boom") })
	assert.ErrorIs(t, err, ErrFault)
	assert.Contains(t, err.Error(), "falha interna: boom")

	// the loop keeps serving commands
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "falha interna: boom", snap.Banner)
}

func TestSession_DoWaitsForAcceptedCommand(t *testing.T) {
	s := newTestSession(nil, nil, nil)
	runTestSession(t, s)

	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Microsecond, cancel)
		var snap Snapshot
		finished := false
		err := s.Do(ctx, func() {
			time.Sleep(200 * time.Microsecond)
			snap = s.snapshot(true)
			finished = true
		})
		cancel()
		if err != nil {
			// never handed to the loop
			require.ErrorIs(t, err, context.Canceled)
			assert.False(t, finished)
			continue
		}
		assert.True(t, finished)
		assert.NotEmpty(t, snap.Path)
	}
}

func TestSession_SnapshotStops(t *testing.T) {
	s := newTestSession(nil, nil, nil)
	snap := s.snapshot(false)

	assert.Equal(t, Running, snap.State)
	assert.Equal(t, 1, snap.Next)
	assert.Nil(t, snap.Path)
	require.Len(t, snap.Stops, 3)
	assert.True(t, snap.Stops[0].Passed)
	assert.Nil(t, snap.Stops[0].LiveETA)
	assert.False(t, snap.Stops[1].Passed)
	require.NotNil(t, snap.Stops[1].LiveETA)
	// ~556 m at 40 km/h
	assert.WithinDuration(t, testNow.Add(50*time.Second), *snap.Stops[1].LiveETA, time.Second)

	s.clock.Tick(1000)
	snap = s.snapshot(true)
	assert.Equal(t, Arrived, snap.State)
	assert.Equal(t, 2, snap.Next)
	assert.Len(t, snap.Path, 3)
	for _, st := range snap.Stops {
		assert.True(t, st.Passed, st.Name)
	}
}

func TestSession_StartClockOption(t *testing.T) {
	s := NewSession(testStops, nil, nil, nil, Options{
		Location:   time.UTC,
		StartClock: "06:45",
		Now:        func() time.Time { return testNow },
	})
	assert.Equal(t, time.Date(2026, 3, 10, 6, 45, 0, 0, time.UTC), s.startTime)

	bad := NewSession(testStops, nil, nil, nil, Options{
		Location:   time.UTC,
		StartClock: "cedo",
		Now:        func() time.Time { return testNow },
	})
	assert.Equal(t, testNow, bad.startTime)
}
