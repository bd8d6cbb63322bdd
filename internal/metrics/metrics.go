package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Ticks          prometheus.Counter
	Arrivals       prometheus.Counter
	Resets         prometheus.Counter
	RecoveredFault prometheus.Counter

	RouteFetches     *prometheus.CounterVec // result label: ok|fallback
	RouteCacheHits   prometheus.Counter
	RouteCacheMisses prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram
	RouteFetchTime  prometheus.Histogram

	SpeedKmh        prometheus.Gauge
	Progress        prometheus.Gauge // 0..1
	RemainingMeters prometheus.Gauge
	SpeedMultiplier prometheus.Gauge
	TickInterval    prometheus.Gauge // seconds
}

func NewCollector(speedMultiplier float64, tickInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coleta_ticks_total",
			Help: "Simulation ticks processed.",
		}),
		Arrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coleta_arrivals_total",
			Help: "Times the truck reached its destination.",
		}),
		Resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coleta_resets_total",
			Help: "Simulation resets.",
		}),
		RecoveredFault: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coleta_recovered_faults_total",
			Help: "Panics recovered inside the simulation loop.",
		}),
		RouteFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coleta_route_fetch_total",
			Help: "Route loads by outcome.",
		}, []string{"result"}),
		RouteCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coleta_route_cache_hits_total",
			Help: "Routed paths served from cache.",
		}),
		RouteCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coleta_route_cache_misses_total",
			Help: "Routed paths not found in cache.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coleta_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coleta_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coleta_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coleta_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coleta_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		RouteFetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coleta_route_fetch_duration_seconds",
			Help:    "Duration of route loads including fallback.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SpeedKmh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coleta_speed_kmh",
			Help: "Current simulated speed.",
		}),
		Progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coleta_route_progress_ratio",
			Help: "Fraction of the route covered.",
		}),
		RemainingMeters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coleta_remaining_meters",
			Help: "Along-route distance left.",
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coleta_speed_multiplier",
			Help: "Simulated seconds per wall-clock second.",
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coleta_tick_interval_seconds",
			Help: "Tick period in seconds.",
		}),
	}

	reg.MustRegister(
		c.Ticks, c.Arrivals, c.Resets, c.RecoveredFault,
		c.RouteFetches, c.RouteCacheHits, c.RouteCacheMisses,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.PublishDuration, c.RouteFetchTime,
		c.SpeedKmh, c.Progress, c.RemainingMeters, c.SpeedMultiplier, c.TickInterval,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.TickInterval.Set(tickInterval.Seconds())

	return c
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// RouteCacheHit and RouteCacheMiss satisfy routing.CacheMetrics.
func (c *Collector) RouteCacheHit()  { c.RouteCacheHits.Inc() }
func (c *Collector) RouteCacheMiss() { c.RouteCacheMisses.Inc() }

// NATS hooks satisfy publisher.PublisherMetrics.
func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
