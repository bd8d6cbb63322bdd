package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL         string
	OSRMURL             string
	OSRMProfile         string
	RouteTimeout        time.Duration
	Zone                string
	RouteFile           string
	SpeedKmh            float64
	TickInterval        time.Duration
	SpeedMultiplier     float64
	ProximityMeters     float64
	ApplyScheduledTimes bool
	HTTPAddr            string
	CORSOrigins         []string
	NATSURL             string
	NATSStreamName      string
	LogNATSSubjects     bool
	ValkeyAddr          string
	RouteCacheTTL       time.Duration
	MetricsAddr         string
	Location            *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Data source: DATABASE_URL / PG_DSN, else PG* vars, else a local SQLite file
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	switch {
	case dsn != "":
		cfg.DatabaseURL = dsn
	case os.Getenv("PGDATABASE") != "":
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	default:
		cfg.DatabaseURL = "sqlite:" + getenvDefault("SQLITE_DATABASE", "data/coleta.db")
	}

	cfg.OSRMURL = getenvDefault("OSRM_URL", "https://router.project-osrm.org")
	cfg.OSRMProfile = getenvDefault("OSRM_PROFILE", "driving")

	var err error
	if cfg.RouteTimeout, err = durationMS("ROUTE_TIMEOUT_MS", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.Zone = getenvDefault("ZONE", "Centro")
	cfg.RouteFile = os.Getenv("ROUTE_FILE")

	// Target truck speed (km/h)
	if cfg.SpeedKmh, err = positiveFloat("SPEED_KMH", 40); err != nil {
		return nil, err
	}

	// Tick interval
	if cfg.TickInterval, err = durationMS("TICK_INTERVAL_MS", time.Second); err != nil {
		return nil, err
	}

	// Speed multiplier
	if cfg.SpeedMultiplier, err = positiveFloat("SPEED_MULTIPLIER", 1); err != nil {
		return nil, err
	}

	// "Chegando" threshold
	if cfg.ProximityMeters, err = positiveFloat("PROXIMITY_METERS", 200); err != nil {
		return nil, err
	}

	cfg.ApplyScheduledTimes = parseBool(os.Getenv("APPLY_SCHEDULED_TIMES"))

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	for _, o := range strings.Split(getenvDefault("CORS_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	// Empty NATS_URL disables position publishing
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSStreamName = os.Getenv("NATS_STREAM_NAME")

	// Debug logging for NATS publish subjects
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	// Empty VALKEY_ADDR disables the route cache
	cfg.ValkeyAddr = os.Getenv("VALKEY_ADDR")
	if v := os.Getenv("ROUTE_CACHE_TTL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid ROUTE_CACHE_TTL_SEC: %q", v)
		}
		cfg.RouteCacheTTL = time.Duration(sec) * time.Second
	} else {
		cfg.RouteCacheTTL = 24 * time.Hour
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func durationMS(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func positiveFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
