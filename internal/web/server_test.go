package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coleta-simulator/internal/db"
	"coleta-simulator/internal/geo"
	"coleta-simulator/internal/metrics"
	"coleta-simulator/internal/sim"
)

var stops = []sim.Waypoint{
	{Name: "bairroA", Zone: "Centro", Point: geo.Point{Lat: 0, Lng: 0}},
	{Name: "bairroB", Zone: "Centro", Point: geo.Point{Lat: 0, Lng: 0.005}},
	{Name: "bairroC", Zone: "Centro", Point: geo.Point{Lat: 0, Lng: 0.01}},
}

type brokenSource struct{}

func (brokenSource) ListNeighborhoods(context.Context) ([]db.Neighborhood, error) {
	return nil, fmt.Errorf("query neighborhoods: %w", db.ErrUnavailable)
}

func (brokenSource) ListSchedules(context.Context) ([]db.Schedule, error) {
	return nil, fmt.Errorf("query schedules: %w", db.ErrUnavailable)
}

func (brokenSource) ListScheduleByNeighborhood(context.Context) ([]db.NeighborhoodSchedule, error) {
	return nil, fmt.Errorf("query schedule by neighborhood: %w", db.ErrUnavailable)
}

// newSession starts a session whose ticker never fires during a test.
func newSession(t *testing.T) *sim.Session {
	t.Helper()
	now := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	s := sim.NewSession(stops, nil, nil, nil, sim.Options{
		ID:           "web-test",
		Zone:         "Centro",
		TickInterval: time.Hour,
		SpeedKmh:     40,
		Location:     time.UTC,
		Now:          func() time.Time { return now },
	})
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
	return s
}

func newTestRouter(t *testing.T, source DataSource, extra ...func(*Options)) http.Handler {
	t.Helper()
	if source == nil {
		seed, err := db.OpenSeed(context.Background())
		require.NoError(t, err)
		t.Cleanup(func() { seed.Close() })
		source = seed
	}
	opts := Options{Source: source, Simulation: newSession(t), ProximityMeters: 200}
	for _, fn := range extra {
		fn(&opts)
	}
	return NewRouter(opts)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) SimulationView {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v SimulationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, nil)
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHealth_FailingCheck(t *testing.T) {
	h := newTestRouter(t, nil, func(o *Options) {
		o.Checks = []Check{
			{Name: "database", Fn: func(context.Context) error { return nil }},
			{Name: "nats", Fn: func(context.Context) error { return errors.New("disconnected") }},
		}
	})
	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, map[string]string{"database": "ok", "nats": "disconnected"}, body.Checks)
}

func TestListings(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodGet, "/api/neighborhoods", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ns []db.Neighborhood
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ns))
	assert.Len(t, ns, 38)

	rec = do(t, h, http.MethodGet, "/api/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sc []db.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sc))
	assert.NotEmpty(t, sc)

	rec = do(t, h, http.MethodGet, "/api/schedules/by-neighborhood", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var byN []db.NeighborhoodSchedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &byN))
	assert.NotEmpty(t, byN)
	assert.NotEmpty(t, byN[0].Neighborhood)
}

func TestListings_Unavailable(t *testing.T) {
	h := newTestRouter(t, brokenSource{})
	for _, path := range []string{"/api/neighborhoods", "/api/schedules", "/api/schedules/by-neighborhood"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, path, "")
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Len(t, body, 1)
			assert.Contains(t, body["error"], "indisponível")
		})
	}
}

func TestSimulation_View(t *testing.T) {
	h := newTestRouter(t, nil)
	v := decodeView(t, do(t, h, http.MethodGet, "/api/simulation", ""))

	assert.Equal(t, "web-test", v.SessionID)
	assert.Equal(t, "running", v.State)
	assert.Equal(t, StatusInTransit, v.Status)
	assert.Equal(t, "07:00", v.StartTime)
	assert.True(t, v.Fallback)
	require.Len(t, v.Stops, 3)
	assert.Equal(t, BadgePassed, v.Stops[0].Badge)
	assert.Equal(t, "", v.Stops[1].Badge)
	assert.True(t, v.Stops[1].Next)
	for _, st := range v.Stops {
		assert.Equal(t, "--:--", st.Scheduled, st.Name)
	}
	assert.Equal(t, "07:00", v.Stops[1].ETA)
	assert.Equal(t, "07:01", v.Stops[2].ETA)
}

func TestSimulation_Controls(t *testing.T) {
	h := newTestRouter(t, nil)

	v := decodeView(t, do(t, h, http.MethodPost, "/api/simulation/pause", ""))
	assert.Equal(t, "paused", v.State)
	assert.Equal(t, StatusPaused, v.Status)

	v = decodeView(t, do(t, h, http.MethodPost, "/api/simulation/resume", ""))
	assert.Equal(t, "running", v.State)

	v = decodeView(t, do(t, h, http.MethodPost, "/api/simulation/reset", ""))
	assert.Equal(t, "running", v.State)
	assert.Equal(t, geo.Point{Lat: 0, Lng: 0}, v.Position)
}

func TestSimulation_SpeedClampsToLastGood(t *testing.T) {
	h := newTestRouter(t, nil)

	v := decodeView(t, do(t, h, http.MethodPut, "/api/simulation/speed", `{"kmh":60}`))
	assert.Equal(t, 60.0, v.SpeedKmh)

	v = decodeView(t, do(t, h, http.MethodPut, "/api/simulation/speed", `{"kmh":-5}`))
	assert.Equal(t, 60.0, v.SpeedKmh)

	v = decodeView(t, do(t, h, http.MethodPut, "/api/simulation/speed", `not json`))
	assert.Equal(t, 60.0, v.SpeedKmh)
}

func TestSimulation_StartTime(t *testing.T) {
	h := newTestRouter(t, nil)

	v := decodeView(t, do(t, h, http.MethodPut, "/api/simulation/start-time", `{"time":"08:15"}`))
	require.NotNil(t, v.Accepted)
	assert.True(t, *v.Accepted)
	assert.Equal(t, "08:15", v.StartTime)

	v = decodeView(t, do(t, h, http.MethodPut, "/api/simulation/start-time", `{"time":"quinze"}`))
	require.NotNil(t, v.Accepted)
	assert.False(t, *v.Accepted)
	assert.Equal(t, "08:15", v.StartTime)
}

func TestSimulation_Overrides(t *testing.T) {
	h := newTestRouter(t, nil)

	v := decodeView(t, do(t, h, http.MethodPut, "/api/simulation/overrides", `{"bairroA":"10:30","bairroB":"99:00"}`))
	assert.Equal(t, "10:30", v.Stops[0].Scheduled)
	assert.Equal(t, "--:--", v.Stops[1].Scheduled)
	assert.Equal(t, []string{"bairroB"}, v.Rejected)

	// a bad body keeps the current overrides
	v = decodeView(t, do(t, h, http.MethodPut, "/api/simulation/overrides", `[`))
	assert.Equal(t, "10:30", v.Stops[0].Scheduled)

	v = decodeView(t, do(t, h, http.MethodPut, "/api/simulation/overrides", `{}`))
	assert.Equal(t, "--:--", v.Stops[0].Scheduled)
}

func TestSimulation_RouteGeoJSON(t *testing.T) {
	h := newTestRouter(t, nil)
	rec := do(t, h, http.MethodGet, "/api/simulation/route", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 5)

	line, ok := fc.Features[0].Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Len(t, line, 3)
	assert.Equal(t, orb.Point{0.01, 0}, line[2])
	assert.Equal(t, "route", fc.Features[0].Properties["kind"])
	assert.Equal(t, "bairroB", fc.Features[2].Properties["name"])
	assert.Equal(t, "truck", fc.Features[4].Properties["kind"])
	assert.Equal(t, StatusInTransit, fc.Features[4].Properties["status"])
}

func TestCORSAndMetrics(t *testing.T) {
	col := metrics.NewCollector(1, time.Second)
	h := newTestRouter(t, nil, func(o *Options) { o.Metrics = col.Handler() })

	req := httptest.NewRequest(http.MethodGet, "/api/simulation", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coleta_speed_multiplier")
}

func TestSimulation_StoppedSession(t *testing.T) {
	s := sim.NewSession(stops, nil, nil, nil, sim.Options{TickInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.Run(ctx)

	h := NewRouter(Options{Source: brokenSource{}, Simulation: s})
	rec := do(t, h, http.MethodGet, "/api/simulation", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// faultySimulation panics while building the view.
type faultySimulation struct{ *sim.Session }

func (f faultySimulation) Snapshot(ctx context.Context) (sim.Snapshot, error) {
	var snap sim.Snapshot
	err := f.Do(ctx, func() { panic("index out of range") })
	return snap, err
}

func TestSimulation_FaultIsUnavailable(t *testing.T) {
	var session *sim.Session
	h := newTestRouter(t, nil, func(o *Options) {
		session = o.Simulation.(*sim.Session)
		o.Simulation = faultySimulation{session}
	})

	rec := do(t, h, http.MethodGet, "/api/simulation", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "falha interna: index out of range")

	// the loop survives and the banner carries the fault
	snap, err := session.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "falha interna: index out of range", snap.Banner)
}
