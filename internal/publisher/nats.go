package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectPrefix = "coleta.truck"

type NATSPublisher struct {
	nc          *nats.Conn
	js          nats.JetStreamContext
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NewNATSPublisher connects to url. When streamName is set, a JetStream
// stream covering coleta.truck.> is created (or updated) and positions are
// published through it.
func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics, streamName string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("coleta-simulator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(nc.IsConnected())
	}
	p := &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}

	if streamName != "" {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		cfg := &nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subjectPrefix + ".>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    time.Hour,
			Storage:   nats.FileStorage,
		}
		if _, err := js.AddStream(cfg); err != nil {
			if _, err := js.UpdateStream(cfg); err != nil {
				nc.Close()
				return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
			}
		}
		p.js = js
	}
	return p, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// IsConnected is used by the readiness check.
func (p *NATSPublisher) IsConnected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

type PositionMessage struct {
	SessionID  string    `json:"sessionId"`
	Zone       string    `json:"zone"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Bearing    float64   `json:"bearing"`
	Progress   float64   `json:"progress"`
	SpeedKmh   float64   `json:"speedKmh"`
	State      string    `json:"state"`
	Segment    int       `json:"segment"`
	NextStop   string    `json:"nextStop,omitempty"`
	RemainingM float64   `json:"remainingMeters"`
	ETASeconds float64   `json:"etaSeconds"`
	Fallback   bool      `json:"fallback"`
}

// Subject returns the subject positions for sessionID are published on.
func Subject(sessionID string) string {
	return fmt.Sprintf("%s.%s", subjectPrefix, subjectToken(sessionID))
}

func (p *NATSPublisher) PublishPosition(msg PositionMessage) error {
	subject := Subject(msg.SessionID)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	if p.js != nil {
		_, err = p.js.Publish(subject, b)
	} else {
		err = p.nc.Publish(subject, b)
	}
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
