package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// RouteWaypoint is one stop in a route file.
type RouteWaypoint struct {
	Name string  `mapstructure:"name"`
	Zone string  `mapstructure:"zone"`
	Lat  float64 `mapstructure:"lat"`
	Lng  float64 `mapstructure:"lng"`
	Time string  `mapstructure:"time"` // "HH:MM", optional
}

// RouteOverride pins the displayed time of a named waypoint.
type RouteOverride struct {
	Name string `mapstructure:"name"`
	Time string `mapstructure:"time"`
}

// RouteFile lists waypoints in visiting order. Overrides are a list rather
// than a map because viper lower-cases map keys.
type RouteFile struct {
	Zone      string          `mapstructure:"zone"`
	StartTime string          `mapstructure:"start_time"`
	Waypoints []RouteWaypoint `mapstructure:"waypoints"`
	Overrides []RouteOverride `mapstructure:"overrides"`
}

// LoadRouteFile reads a YAML route file such as:
//
//	zone: Centro
//	waypoints:
//	  - {name: Centro Histórico, lat: -30.0279, lng: -51.2280, time: "08:00"}
//	  - {name: Bom Fim, lat: -30.0326, lng: -51.2145}
//	overrides:
//	  - {name: Bom Fim, time: "10:30"}
func LoadRouteFile(path string) (*RouteFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read route file: %w", err)
	}

	var rf RouteFile
	if err := v.Unmarshal(&rf); err != nil {
		return nil, fmt.Errorf("unmarshal route file: %w", err)
	}
	if len(rf.Waypoints) == 0 {
		return nil, errors.New("route file has no waypoints")
	}
	for i := range rf.Waypoints {
		w := &rf.Waypoints[i]
		w.Name = strings.TrimSpace(w.Name)
		if w.Name == "" {
			w.Name = fmt.Sprintf("Ponto %d", i+1)
		}
		if w.Zone == "" {
			w.Zone = rf.Zone
		}
		if w.Lat < -90 || w.Lat > 90 || w.Lng < -180 || w.Lng > 180 {
			return nil, fmt.Errorf("waypoint %q: coordinates out of range", w.Name)
		}
	}
	return &rf, nil
}

// OverrideMap returns the overrides keyed by waypoint name.
func (rf *RouteFile) OverrideMap() map[string]string {
	out := make(map[string]string, len(rf.Overrides))
	for _, o := range rf.Overrides {
		out[strings.TrimSpace(o.Name)] = strings.TrimSpace(o.Time)
	}
	return out
}
