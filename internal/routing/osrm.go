package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coleta-simulator/internal/geo"
)

var ErrEmptyRoute = errors.New("routing service returned no route")

// OSRM talks to an OSRM-compatible /route/v1 endpoint.
type OSRM struct {
	baseURL string
	profile string
	client  *http.Client
}

func NewOSRM(baseURL, profile string, timeout time.Duration) *OSRM {
	if profile == "" {
		profile = "driving"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OSRM{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: profile,
		client:  &http.Client{Timeout: timeout},
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Legs []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"legs"`
	} `json:"routes"`
}

// FetchExpandedRoute issues a single request; it never retries.
func (o *OSRM) FetchExpandedRoute(ctx context.Context, waypoints []geo.Point) (*Route, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("need at least 2 waypoints, got %d", len(waypoints))
	}
	coords := make([]string, len(waypoints))
	for i, w := range waypoints {
		coords[i] = fmt.Sprintf("%.6f,%.6f", w.Lng, w.Lat)
	}
	url := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=geojson&steps=false",
		o.baseURL, o.profile, strings.Join(coords, ";"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("osrm read body: %w", err)
	}
	var parsed osrmResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("osrm decode: %w", err)
	}
	if parsed.Code != "" && parsed.Code != "Ok" {
		return nil, fmt.Errorf("osrm code %s: %s", parsed.Code, parsed.Message)
	}
	if len(parsed.Routes) == 0 || len(parsed.Routes[0].Geometry.Coordinates) == 0 {
		return nil, ErrEmptyRoute
	}

	best := parsed.Routes[0]
	path := make([]geo.Point, 0, len(best.Geometry.Coordinates))
	for _, pair := range best.Geometry.Coordinates {
		if len(pair) < 2 {
			continue
		}
		path = append(path, geo.Point{Lat: pair[1], Lng: pair[0]})
	}
	path = snapEnds(path, waypoints)
	if len(path) < len(waypoints) {
		return nil, fmt.Errorf("osrm geometry has %d points for %d waypoints", len(path), len(waypoints))
	}

	r := &Route{
		Path:          path,
		TotalDistance: best.Distance,
		TotalDuration: best.Duration,
	}
	if len(best.Legs) == len(waypoints)-1 {
		for _, leg := range best.Legs {
			r.LegDurations = append(r.LegDurations, leg.Duration)
			r.LegDistances = append(r.LegDistances, leg.Distance)
		}
	}
	return r, nil
}
