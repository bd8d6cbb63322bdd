package web

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"coleta-simulator/internal/db"
	"coleta-simulator/internal/sim"
)

// DataSource is the read-only schedule store behind the listing endpoints.
type DataSource interface {
	ListNeighborhoods(ctx context.Context) ([]db.Neighborhood, error)
	ListSchedules(ctx context.Context) ([]db.Schedule, error)
	ListScheduleByNeighborhood(ctx context.Context) ([]db.NeighborhoodSchedule, error)
}

// Simulation is the control surface of a running session.
type Simulation interface {
	Snapshot(ctx context.Context) (sim.Snapshot, error)
	RouteSnapshot(ctx context.Context) (sim.Snapshot, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Reset(ctx context.Context) error
	SetSpeed(ctx context.Context, kmh float64) (float64, error)
	SetStartTime(ctx context.Context, clock string) (bool, error)
	SetOverrides(ctx context.Context, overrides map[string]string) ([]string, error)
}

// Check is a named readiness probe reported by /health.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Options struct {
	Source          DataSource
	Simulation      Simulation
	ProximityMeters float64
	CORSOrigins     []string
	Metrics         http.Handler // mounted at /metrics when set
	Checks          []Check
}

// Server serves the listing endpoints and the simulation controls.
type Server struct {
	source    DataSource
	sim       Simulation
	proximity float64
	checks    []Check
}

// NewRouter builds the chi router with every endpoint mounted.
func NewRouter(opts Options) http.Handler {
	s := &Server{
		source:    opts.Source,
		sim:       opts.Simulation,
		proximity: opts.ProximityMeters,
		checks:    opts.Checks,
	}
	if s.proximity <= 0 {
		s.proximity = 200
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/neighborhoods", s.listNeighborhoods)
		r.Get("/schedules", s.listSchedules)
		r.Get("/schedules/by-neighborhood", s.listScheduleByNeighborhood)

		r.Route("/simulation", func(r chi.Router) {
			r.Get("/", s.getSimulation)
			r.Get("/route", s.getRoute)
			r.Post("/pause", s.command(s.sim.Pause))
			r.Post("/resume", s.command(s.sim.Resume))
			r.Post("/reset", s.command(s.sim.Reset))
			r.Put("/speed", s.putSpeed)
			r.Put("/start-time", s.putStartTime)
			r.Put("/overrides", s.putOverrides)
		})
	})
	return r
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// sourceError maps data-source failures to 503 and everything else to 500.
func sourceError(w http.ResponseWriter, what string, err error) {
	log.Printf("%s: %v", what, err)
	if errors.Is(err, db.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "Não foi possível carregar "+what+": banco de dados indisponível")
		return
	}
	writeError(w, http.StatusInternalServerError, "Não foi possível carregar "+what)
}

func simError(w http.ResponseWriter, err error) {
	if errors.Is(err, sim.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, "simulação encerrada")
		return
	}
	if errors.Is(err, sim.ErrFault) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		writeError(w, http.StatusServiceUnavailable, "simulação não respondeu")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{"status": "ok", "timestamp": time.Now().UTC()}
	deps := map[string]string{}
	for _, c := range s.checks {
		if err := c.Fn(ctx); err != nil {
			deps[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			body["status"] = "error"
			continue
		}
		deps[c.Name] = "ok"
	}
	if len(deps) > 0 {
		body["checks"] = deps
	}
	writeJSON(w, status, body)
}

func (s *Server) listNeighborhoods(w http.ResponseWriter, r *http.Request) {
	rows, err := s.source.ListNeighborhoods(r.Context())
	if err != nil {
		sourceError(w, "bairros", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	rows, err := s.source.ListSchedules(r.Context())
	if err != nil {
		sourceError(w, "horários", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) listScheduleByNeighborhood(w http.ResponseWriter, r *http.Request) {
	rows, err := s.source.ListScheduleByNeighborhood(r.Context())
	if err != nil {
		sourceError(w, "horários por bairro", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// view writes the current simulation view, optionally with extra fields set.
func (s *Server) view(w http.ResponseWriter, r *http.Request, decorate func(*SimulationView)) {
	snap, err := s.sim.Snapshot(r.Context())
	if err != nil {
		simError(w, err)
		return
	}
	v := NewSimulationView(snap, s.proximity)
	if decorate != nil {
		decorate(&v)
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) getSimulation(w http.ResponseWriter, r *http.Request) {
	s.view(w, r, nil)
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sim.RouteSnapshot(r.Context())
	if err != nil {
		simError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	b, err := RouteFeatureCollection(snap, s.proximity).MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_, _ = w.Write(b)
}

func (s *Server) command(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			simError(w, err)
			return
		}
		s.view(w, r, nil)
	}
}

type speedRequest struct {
	Kmh float64 `json:"kmh"`
}

type startTimeRequest struct {
	Time string `json:"time"`
}

// putSpeed never rejects: an unusable body or value keeps the last good speed.
func (s *Server) putSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("speed: ignoring body: %v", err)
	}
	if _, err := s.sim.SetSpeed(r.Context(), req.Kmh); err != nil {
		simError(w, err)
		return
	}
	s.view(w, r, nil)
}

func (s *Server) putStartTime(w http.ResponseWriter, r *http.Request) {
	var req startTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("start-time: ignoring body: %v", err)
	}
	ok, err := s.sim.SetStartTime(r.Context(), req.Time)
	if err != nil {
		simError(w, err)
		return
	}
	s.view(w, r, func(v *SimulationView) { v.Accepted = &ok })
}

func (s *Server) putOverrides(w http.ResponseWriter, r *http.Request) {
	var overrides map[string]string
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		// keep the current overrides
		log.Printf("overrides: ignoring body: %v", err)
		s.view(w, r, nil)
		return
	}
	rejected, err := s.sim.SetOverrides(r.Context(), overrides)
	if err != nil {
		simError(w, err)
		return
	}
	s.view(w, r, func(v *SimulationView) { v.Rejected = rejected })
}
