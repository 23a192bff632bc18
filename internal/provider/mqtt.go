package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"bicimon/internal/trip"
)

// ownTracksLocation is the subset of an OwnTracks "location" message used
// here. Velocity is km/h, altitude and accuracies meters, tst epoch seconds.
type ownTracksLocation struct {
	Type string   `json:"_type"`
	Tst  *int64   `json:"tst"`
	Vel  *float64 `json:"vel"`
	Alt  *float64 `json:"alt"`
	Vac  *float64 `json:"vac"`
	Cog  *float64 `json:"cog"`
	Acc  *float64 `json:"acc"`
}

// DecodeOwnTracks parses an OwnTracks payload. ok is false for message
// types other than "location".
func DecodeOwnTracks(b []byte) (fix trip.RawFix, ok bool, err error) {
	var m ownTracksLocation
	if err := json.Unmarshal(b, &m); err != nil {
		return trip.RawFix{}, false, fmt.Errorf("decode owntracks: %w", err)
	}
	if m.Type != "location" {
		return trip.RawFix{}, false, nil
	}
	if m.Tst == nil {
		return trip.RawFix{}, false, fmt.Errorf("decode owntracks: missing tst")
	}
	fix = trip.RawFix{
		Timestamp:        time.Unix(*m.Tst, 0),
		Altitude:         opt(m.Alt),
		AltitudeAccuracy: opt(m.Vac),
		Heading:          opt(m.Cog),
		Accuracy:         opt(m.Acc),
	}
	if m.Vel != nil {
		fix.SpeedMps = trip.Some(*m.Vel / trip.MpsToKmh)
	}
	return fix, true, nil
}

// MQTTConfig configures the OwnTracks subscriber.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// MQTT receives OwnTracks location messages from a broker.
type MQTT struct {
	cfg  MQTTConfig
	opts Options
	log  logrus.FieldLogger
}

func NewMQTT(cfg MQTTConfig, opts Options, log logrus.FieldLogger) *MQTT {
	return &MQTT{cfg: cfg, opts: opts, log: log}
}

// commandTopic is the OwnTracks cmd topic for a concrete device topic, or ""
// when the location topic is a wildcard.
func commandTopic(topic string) string {
	if strings.ContainsAny(topic, "+#") {
		return ""
	}
	return topic + "/cmd"
}

func (p *MQTT) Watch(ctx context.Context, out chan<- Event) error {
	events := make(chan Event, 64)
	push := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		fix, ok, err := DecodeOwnTracks(msg.Payload())
		if err != nil {
			p.log.WithError(err).WithField("topic", msg.Topic()).Warn("dropping malformed fix")
			return
		}
		if ok {
			push(FixEvent(fix))
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		p.log.WithField("topic", p.cfg.Topic).Info("mqtt connected")
		if tok := c.Subscribe(p.cfg.Topic, 1, onMessage); tok.Wait() && tok.Error() != nil {
			push(ErrorEvent(fmt.Errorf("mqtt subscribe: %w", tok.Error())))
			return
		}
		if cmd := commandTopic(p.cfg.Topic); cmd != "" && p.opts.HighAccuracy {
			// Ask the phone for move mode, OwnTracks' high-frequency reporting.
			payload := `{"_type":"cmd","action":"setConfiguration","configuration":{"_type":"configuration","monitoring":2}}`
			c.Publish(cmd, 1, false, payload)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.WithError(err).Warn("mqtt connection lost")
		push(ErrorEvent(fmt.Errorf("mqtt connection lost: %w", err)))
	})

	client := mqtt.NewClient(opts)
	// With connect retry the token only completes once a broker accepts us.
	tok := client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", p.cfg.Broker, err)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	defer client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if !send(ctx, out, ev) {
				return ctx.Err()
			}
		}
	}
}
