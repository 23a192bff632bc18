package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"bicimon/internal/trip"
	"bicimon/internal/view"
)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Connect dials NATS and keeps the connected gauge in sync with the
// connection state.
func Connect(url, name string, m PublisherMetrics, log logrus.FieldLogger) (*nats.Conn, error) {
	setConnected := func(v bool) {
		if m != nil {
			m.NATSSetConnected(v)
		}
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			setConnected(false)
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			setConnected(true)
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			setConnected(false)
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	setConnected(true)
	return nc, nil
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

type Options struct {
	Prefix      string
	Device      string
	Location    *time.Location
	LogSubjects bool
	// WakeLock, when set, reports whether the screen wake lock is held.
	WakeLock func() bool
}

// NATSPublisher publishes trip telemetry and user-facing errors for one
// device. It is a monitor sink and a report.Reporter.
type NATSPublisher struct {
	nc      Conn
	opts    Options
	metrics PublisherMetrics
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewNATSPublisher(nc Conn, opts Options, m PublisherMetrics, log logrus.FieldLogger) *NATSPublisher {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &NATSPublisher{nc: nc, opts: opts, metrics: m, log: log, now: time.Now}
}

// Subject builds "<prefix>.<device>.<kind>".
func Subject(prefix, device, kind string) string {
	return fmt.Sprintf("%s.%s.%s", subjectToken(prefix), subjectToken(device), kind)
}

// Publish sends the formatted trip view on the telemetry subject.
func (p *NATSPublisher) Publish(s trip.Snapshot) error {
	v := view.Build(s, p.opts.Location)
	if p.opts.WakeLock != nil {
		v.WakeLock = p.opts.WakeLock()
	}
	return p.publish("telemetry", v)
}

// ErrorMessage is published on the error subject.
type ErrorMessage struct {
	Device    string    `json:"device"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Report publishes msg on the error subject. Failures are logged only.
func (p *NATSPublisher) Report(msg string) {
	err := p.publish("error", ErrorMessage{Device: p.opts.Device, Message: msg, Timestamp: p.now()})
	if err != nil {
		p.log.WithError(err).Warn("publish error report failed")
	}
}

func (p *NATSPublisher) publish(kind string, msg any) error {
	subject := Subject(p.opts.Prefix, p.opts.Device, kind)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.opts.LogSubjects {
		p.log.WithField("subject", subject).Debug("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
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
