package web

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"coleta-simulator/internal/geo"
	"coleta-simulator/internal/sim"
)

func toOrb(p geo.Point) orb.Point { return orb.Point{p.Lng, p.Lat} }

// RouteFeatureCollection renders the followed path, the waypoints and the
// truck as GeoJSON.
func RouteFeatureCollection(snap sim.Snapshot, proximity float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	line := make(orb.LineString, 0, len(snap.Path))
	for _, p := range snap.Path {
		line = append(line, toOrb(p))
	}
	path := geojson.NewFeature(line)
	path.Properties["kind"] = "route"
	path.Properties["fallback"] = snap.Fallback
	path.Properties["distanceMeters"] = round(snap.Total, 1)
	fc.Append(path)

	for i, st := range snap.Stops {
		f := geojson.NewFeature(toOrb(st.Point))
		f.Properties["kind"] = "waypoint"
		f.Properties["order"] = i
		f.Properties["name"] = st.Name
		f.Properties["zone"] = st.Zone
		f.Properties["scheduled"] = FormatClock(st.Scheduled)
		f.Properties["badge"] = Badge(st, proximity)
		fc.Append(f)
	}

	truck := geojson.NewFeature(toOrb(snap.Position))
	truck.Properties["kind"] = "truck"
	truck.Properties["state"] = snap.State.String()
	truck.Properties["status"] = StatusText(snap, proximity)
	truck.Properties["bearing"] = round(snap.Bearing, 1)
	fc.Append(truck)

	return fc
}
