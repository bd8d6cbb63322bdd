package db

import (
	"context"
	"database/sql"
)

type Neighborhood struct {
	Name string `json:"name"`
	Zone string `json:"zone"`
}

type Schedule struct {
	Day            string `json:"day"`
	Time           string `json:"time"`
	CollectionType string `json:"collectionType"`
}

type NeighborhoodSchedule struct {
	Neighborhood   string `json:"neighborhood"`
	Zone           string `json:"zone"`
	Day            string `json:"day"`
	Time           string `json:"time"`
	CollectionType string `json:"collectionType"`
}

// Stop is a neighborhood with coordinates, in route order.
type Stop struct {
	Name string
	Zone string
	Lat  float64
	Lng  float64
	Time string // configured passing time, "" if none
}

func (s *Source) ListNeighborhoods(ctx context.Context) ([]Neighborhood, error) {
	q := `SELECT name, zone FROM neighborhoods ORDER BY zone, route_order, name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, unavailable("query neighborhoods", err)
	}
	defer rows.Close()

	out := []Neighborhood{}
	for rows.Next() {
		var n Neighborhood
		if err := rows.Scan(&n.Name, &n.Zone); err != nil {
			return nil, unavailable("scan neighborhood", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query neighborhoods", err)
	}
	return out, nil
}

func (s *Source) ListSchedules(ctx context.Context) ([]Schedule, error) {
	q := `SELECT day, collection_time, collection_type FROM collections ORDER BY collection_time, day, collection_type`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, unavailable("query schedules", err)
	}
	defer rows.Close()

	out := []Schedule{}
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.Day, &sc.Time, &sc.CollectionType); err != nil {
			return nil, unavailable("scan schedule", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query schedules", err)
	}
	return out, nil
}

// ListScheduleByNeighborhood joins every collection with the neighborhood it
// belongs to.
func (s *Source) ListScheduleByNeighborhood(ctx context.Context) ([]NeighborhoodSchedule, error) {
	q := `
SELECT n.name, n.zone, c.day, c.collection_time, c.collection_type
FROM neighborhoods n
JOIN collections c ON c.neighborhood_id = n.id
ORDER BY n.zone, n.route_order, n.name, c.collection_type`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, unavailable("query schedule by neighborhood", err)
	}
	defer rows.Close()

	out := []NeighborhoodSchedule{}
	for rows.Next() {
		var ns NeighborhoodSchedule
		if err := rows.Scan(&ns.Neighborhood, &ns.Zone, &ns.Day, &ns.Time, &ns.CollectionType); err != nil {
			return nil, unavailable("scan schedule by neighborhood", err)
		}
		out = append(out, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query schedule by neighborhood", err)
	}
	return out, nil
}

// ListWaypoints returns the neighborhoods of zone in route order. An empty
// zone returns every neighborhood, zone by zone.
func (s *Source) ListWaypoints(ctx context.Context, zone string) ([]Stop, error) {
	q := `SELECT name, zone, lat, lng, collection_time FROM neighborhoods`
	var args []any
	if zone != "" {
		q += ` WHERE zone = ?`
		args = append(args, zone)
	}
	q += ` ORDER BY zone, route_order, id`
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, unavailable("query waypoints", err)
	}
	defer rows.Close()

	var out []Stop
	for rows.Next() {
		var st Stop
		var at sql.NullString
		if err := rows.Scan(&st.Name, &st.Zone, &st.Lat, &st.Lng, &at); err != nil {
			return nil, unavailable("scan waypoint", err)
		}
		st.Time = at.String
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query waypoints", err)
	}
	return out, nil
}
