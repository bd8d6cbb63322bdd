package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"coleta-simulator/internal/cache"
	"coleta-simulator/internal/config"
	"coleta-simulator/internal/db"
	"coleta-simulator/internal/geo"
	"coleta-simulator/internal/metrics"
	"coleta-simulator/internal/publisher"
	"coleta-simulator/internal/routing"
	"coleta-simulator/internal/sim"
	"coleta-simulator/internal/web"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(cfg.SpeedMultiplier, cfg.TickInterval)
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr)
		defer shutdown(srv)
	}

	// Data source. A failure here only disables the listing endpoints.
	source, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer source.Close()
	if err := source.Ping(ctx); err != nil {
		log.Printf("db ping error: %v", err)
	} else if err := source.EnsureSchema(ctx); err != nil {
		log.Printf("db schema error: %v", err)
	}

	waypoints, overrides, startClock := loadWaypoints(ctx, cfg, source)
	if len(waypoints) == 0 {
		log.Fatalf("no waypoints for zone %q", cfg.Zone)
	}

	// Routing, optionally behind the Valkey cache
	var provider routing.Provider = routing.NewOSRM(cfg.OSRMURL, cfg.OSRMProfile, cfg.RouteTimeout)
	var valkeyCache *cache.Valkey
	if cfg.ValkeyAddr != "" {
		valkeyCache, err = cache.NewValkey(cfg.ValkeyAddr)
		if err != nil {
			log.Printf("valkey unavailable, routing without cache: %v", err)
		} else {
			defer valkeyCache.Close()
			provider = routing.NewCached(provider, valkeyCache, int(cfg.RouteCacheTTL.Seconds()), mcol)
		}
	}

	// Position stream
	var pub sim.Publisher
	var natsPub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		natsPub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, mcol, cfg.NATSStreamName)
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer natsPub.Close()
		pub = natsPub
	}

	session := sim.NewSession(waypoints, provider, pub, mcol, sim.Options{
		ID:              uuid.NewString(),
		Zone:            cfg.Zone,
		TickInterval:    cfg.TickInterval,
		SpeedMultiplier: cfg.SpeedMultiplier,
		SpeedKmh:        cfg.SpeedKmh,
		Location:        cfg.Location,
		Overrides:       overrides,
		StartClock:      startClock,
	})
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("session error: %v", err)
		}
	}()
	if natsPub != nil {
		log.Printf("publishing positions on %s", publisher.Subject(session.ID()))
	}

	checks := []web.Check{{Name: "database", Fn: source.Ping}}
	if natsPub != nil {
		checks = append(checks, web.Check{Name: "nats", Fn: func(context.Context) error {
			if !natsPub.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}})
	}
	if valkeyCache != nil {
		checks = append(checks, web.Check{Name: "cache", Fn: valkeyCache.Ping})
	}

	router := web.NewRouter(web.Options{
		Source:          source,
		Simulation:      session,
		ProximityMeters: cfg.ProximityMeters,
		CORSOrigins:     cfg.CORSOrigins,
		Metrics:         mcol.Handler(),
		Checks:          checks,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()
	log.Printf("http listening on %s", cfg.HTTPAddr)

	// Block until context cancelled
	<-ctx.Done()
	shutdown(srv)
	<-sessionDone
	log.Println("shutdown complete")
}

// loadWaypoints prefers the route file, then the data source for cfg.Zone,
// then the built-in seed.
func loadWaypoints(ctx context.Context, cfg *config.Config, source *db.Source) ([]sim.Waypoint, map[string]string, string) {
	if cfg.RouteFile != "" {
		rf, err := config.LoadRouteFile(cfg.RouteFile)
		if err == nil {
			wps := make([]sim.Waypoint, 0, len(rf.Waypoints))
			for _, w := range rf.Waypoints {
				wps = append(wps, sim.Waypoint{Name: w.Name, Zone: w.Zone, Point: geo.Point{Lat: w.Lat, Lng: w.Lng}, Scheduled: w.Time})
			}
			log.Printf("loaded %d waypoints from %s", len(wps), cfg.RouteFile)
			return wps, mergeOverrides(cfg, wps, rf.OverrideMap()), rf.StartTime
		}
		log.Printf("route file error: %v", err)
	}

	stops, err := source.ListWaypoints(ctx, cfg.Zone)
	if err != nil || len(stops) == 0 {
		if err != nil {
			log.Printf("waypoints from data source: %v (using built-in seed)", err)
		} else {
			log.Printf("no waypoints for zone %q in data source (using built-in seed)", cfg.Zone)
		}
		seed, serr := db.OpenSeed(ctx)
		if serr != nil {
			log.Printf("built-in seed error: %v", serr)
			return nil, nil, ""
		}
		defer seed.Close()
		if stops, err = seed.ListWaypoints(ctx, cfg.Zone); err != nil {
			log.Printf("built-in seed error: %v", err)
			return nil, nil, ""
		}
	}
	wps := make([]sim.Waypoint, 0, len(stops))
	for _, st := range stops {
		wps = append(wps, sim.Waypoint{Name: st.Name, Zone: st.Zone, Point: geo.Point{Lat: st.Lat, Lng: st.Lng}, Scheduled: st.Time})
	}
	log.Printf("loaded %d waypoints for zone %q", len(wps), cfg.Zone)
	return wps, mergeOverrides(cfg, wps, nil), ""
}

// mergeOverrides turns configured passing times into overrides when
// APPLY_SCHEDULED_TIMES is set; explicit overrides win.
func mergeOverrides(cfg *config.Config, wps []sim.Waypoint, explicit map[string]string) map[string]string {
	out := map[string]string{}
	if cfg.ApplyScheduledTimes {
		for _, w := range wps {
			if w.Scheduled != "" {
				out[w.Name] = w.Scheduled
			}
		}
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
