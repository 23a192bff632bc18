package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"bicimon/internal/trip"
)

// geolocationMessage mirrors the W3C GeolocationPosition and
// GeolocationPositionError shapes a phone bridge publishes.
type geolocationMessage struct {
	Timestamp *int64 `json:"timestamp"` // epoch ms
	Coords    *struct {
		Speed            *float64 `json:"speed"`
		Altitude         *float64 `json:"altitude"`
		AltitudeAccuracy *float64 `json:"altitudeAccuracy"`
		Heading          *float64 `json:"heading"`
		Accuracy         *float64 `json:"accuracy"`
	} `json:"coords"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// watchRequest asks the bridge to start watching with the given options.
type watchRequest struct {
	EnableHighAccuracy bool  `json:"enableHighAccuracy"`
	Timeout            int64 `json:"timeout"` // ms
}

// DecodeGeolocation parses one NATS fix payload.
func DecodeGeolocation(b []byte) (Event, error) {
	var m geolocationMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return Event{}, fmt.Errorf("decode geolocation: %w", err)
	}
	if m.Error != nil {
		msg := m.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("location error code %d", m.Error.Code)
		}
		return ErrorEvent(errors.New(msg)), nil
	}
	if m.Timestamp == nil || m.Coords == nil {
		return Event{}, errors.New("decode geolocation: missing timestamp or coords")
	}
	return FixEvent(trip.RawFix{
		Timestamp:        time.UnixMilli(*m.Timestamp),
		SpeedMps:         opt(m.Coords.Speed),
		Altitude:         opt(m.Coords.Altitude),
		AltitudeAccuracy: opt(m.Coords.AltitudeAccuracy),
		Heading:          opt(m.Coords.Heading),
		Accuracy:         opt(m.Coords.Accuracy),
	}), nil
}

func opt(p *float64) trip.Option[float64] {
	if p == nil {
		return trip.None[float64]()
	}
	return trip.Some(*p)
}

// NATS receives fixes published on a subject by a phone or bridge.
type NATS struct {
	nc           *nats.Conn
	subject      string
	watchSubject string
	opts         Options
	log          logrus.FieldLogger
}

// NewNATS subscribes to subject on an existing connection. When
// watchSubject is set, the watch options are published there on start.
func NewNATS(nc *nats.Conn, subject, watchSubject string, opts Options, log logrus.FieldLogger) *NATS {
	return &NATS{nc: nc, subject: subject, watchSubject: watchSubject, opts: opts, log: log}
}

func (p *NATS) Watch(ctx context.Context, out chan<- Event) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := p.nc.ChanSubscribe(p.subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", p.subject, err)
	}
	defer sub.Unsubscribe()
	p.log.WithField("subject", p.subject).Info("watching nats fixes")

	if p.watchSubject != "" {
		b, _ := json.Marshal(watchRequest{
			EnableHighAccuracy: p.opts.HighAccuracy,
			Timeout:            p.opts.Timeout.Milliseconds(),
		})
		if err := p.nc.Publish(p.watchSubject, b); err != nil {
			p.log.WithError(err).Warn("publish watch request failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-msgs:
			ev, err := DecodeGeolocation(m.Data)
			if err != nil {
				p.log.WithError(err).WithField("subject", m.Subject).Warn("dropping malformed fix")
				continue
			}
			if !send(ctx, out, ev) {
				return ctx.Err()
			}
		}
	}
}
