package web

import (
	"math"
	"time"

	"coleta-simulator/internal/geo"
	"coleta-simulator/internal/sim"
)

const (
	StatusArrived   = "Chegou ao destino"
	StatusPaused    = "Pausado"
	StatusInTransit = "Em trânsito"
	arrivingPrefix  = "Chegando em "

	BadgePassed   = "chegou"
	BadgeArriving = "chegando"

	noTime = "--:--"
)

// StopView is one row of the route list.
type StopView struct {
	Name      string    `json:"name"`
	Zone      string    `json:"zone"`
	Point     geo.Point `json:"point"`
	Scheduled string    `json:"scheduled"`
	ETA       string    `json:"eta"`
	Badge     string    `json:"badge"`
	Next      bool      `json:"next"`
}

// SimulationView is the JSON body of every /api/simulation response.
type SimulationView struct {
	SessionID  string     `json:"sessionId"`
	Zone       string     `json:"zone"`
	State      string     `json:"state"`
	Status     string     `json:"status"`
	Position   geo.Point  `json:"position"`
	Bearing    float64    `json:"bearing"`
	SpeedKmh   float64    `json:"speedKmh"`
	StartTime  string     `json:"startTime"`
	Now        string     `json:"now"`
	Progress   float64    `json:"progress"`
	RemainingM float64    `json:"remainingMeters"`
	ETA        string     `json:"eta"`
	ETASeconds float64    `json:"etaSeconds"`
	Fallback   bool       `json:"fallback"`
	Banner     string     `json:"banner,omitempty"`
	Stops      []StopView `json:"stops"`
	Rejected   []string   `json:"rejected,omitempty"`
	ProximityM float64    `json:"proximityMeters"`
	Accepted   *bool      `json:"accepted,omitempty"`
}

// StatusText picks the status line; arrival wins over pause, pause over
// proximity.
func StatusText(snap sim.Snapshot, proximity float64) string {
	switch snap.State {
	case sim.Arrived:
		return StatusArrived
	case sim.Paused:
		return StatusPaused
	}
	if snap.Next >= 0 && snap.Next < len(snap.Stops) {
		st := snap.Stops[snap.Next]
		if !st.Passed && st.Ahead <= proximity {
			return arrivingPrefix + st.Name
		}
	}
	return StatusInTransit
}

// Badge marks passed stops and stops within proximity.
func Badge(st sim.Stop, proximity float64) string {
	switch {
	case st.Passed:
		return BadgePassed
	case st.Ahead <= proximity:
		return BadgeArriving
	}
	return ""
}

// FormatClock renders t as HH:MM, or --:-- when absent.
func FormatClock(t *time.Time) string {
	if t == nil {
		return noTime
	}
	return t.Format("15:04")
}

// NewSimulationView renders a snapshot for the UI.
func NewSimulationView(snap sim.Snapshot, proximity float64) SimulationView {
	v := SimulationView{
		SessionID:  snap.SessionID,
		Zone:       snap.Zone,
		State:      snap.State.String(),
		Status:     StatusText(snap, proximity),
		Position:   snap.Position,
		Bearing:    round(snap.Bearing, 1),
		SpeedKmh:   snap.SpeedKmh,
		StartTime:  snap.StartTime.Format("15:04"),
		Now:        snap.Now.Format("15:04:05"),
		RemainingM: round(snap.Remaining, 1),
		ETASeconds: math.Round(snap.ETA.Seconds()),
		Fallback:   snap.Fallback,
		Banner:     snap.Banner,
		ProximityM: proximity,
		Stops:      make([]StopView, 0, len(snap.Stops)),
	}
	v.Progress = 1
	if snap.Total > 0 {
		v.Progress = round(snap.Traveled/snap.Total, 4)
	}
	eta := snap.Now.Add(snap.ETA)
	v.ETA = FormatClock(&eta)
	for i, st := range snap.Stops {
		v.Stops = append(v.Stops, StopView{
			Name:      st.Name,
			Zone:      st.Zone,
			Point:     st.Point,
			Scheduled: FormatClock(st.Scheduled),
			ETA:       FormatClock(st.LiveETA),
			Badge:     Badge(st, proximity),
			Next:      i == snap.Next && snap.State != sim.Arrived,
		})
	}
	return v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
