// Package monitor runs a trip. A single goroutine owns the trip aggregator
// and serializes fixes, provider errors and heartbeats; readers get
// immutable snapshots.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"bicimon/internal/provider"
	"bicimon/internal/report"
	"bicimon/internal/timeutil"
	"bicimon/internal/trip"
)

// Sink receives the trip state after each heartbeat.
type Sink interface {
	Publish(s trip.Snapshot) error
}

// Metrics is the subset of the collector the monitor feeds.
type Metrics interface {
	FixInc()
	ProviderErrorInc()
	TickObserve(d time.Duration, s trip.Snapshot, res trip.TickResult)
}

type Config struct {
	Clock    timeutil.Clock
	Reporter report.Reporter
	Metrics  Metrics
	Sinks    []Sink
	Log      logrus.FieldLogger
}

type Monitor struct {
	clock    timeutil.Clock
	reporter report.Reporter
	metrics  Metrics
	sinks    []Sink
	log      logrus.FieldLogger

	agg  *trip.Aggregator
	snap atomic.Pointer[trip.Snapshot]
}

// New starts a trip at the clock's current time.
func New(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		cfg.Log = l
	}
	m := &Monitor{
		clock:    cfg.Clock,
		reporter: cfg.Reporter,
		metrics:  cfg.Metrics,
		sinks:    cfg.Sinks,
		log:      cfg.Log,
	}
	now := m.clock.Now()
	m.agg = trip.NewAggregator(now)
	m.store(now)
	m.log.WithFields(logrus.Fields{"trip": m.agg.ID(), "start": now.Format(time.RFC3339)}).Info("trip started")
	return m
}

// Snapshot returns the state published after the last handled event.
func (m *Monitor) Snapshot() trip.Snapshot {
	return *m.snap.Load()
}

// Run handles events and heartbeats until ctx is done. A closed events
// channel stops fix delivery but heartbeats continue. A panic while handling
// anything is reported and returned as a *report.Fault.
func (m *Monitor) Run(ctx context.Context, events <-chan provider.Event) error {
	tick := m.clock.NewTicker(timeutil.Heartbeat)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.WithField("trip", m.agg.ID()).Info("trip stopped")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				m.log.Warn("location events closed")
				events = nil
				continue
			}
			if err := m.safely(func() { m.handle(ev) }); err != nil {
				return err
			}
		case now := <-tick.C():
			if err := m.safely(func() { m.heartbeat(now) }); err != nil {
				return err
			}
		}
	}
}

func (m *Monitor) handle(ev provider.Event) {
	now := m.clock.Now()
	if ev.Err != nil {
		msg := m.agg.ApplyProviderError(ev.Err)
		if m.metrics != nil {
			m.metrics.ProviderErrorInc()
		}
		m.log.WithError(ev.Err).Warn("location provider error")
		m.report(msg)
		m.store(now)
		return
	}
	m.agg.ApplyFix(trip.Normalize(ev.Fix))
	if m.metrics != nil {
		m.metrics.FixInc()
	}
	m.store(now)
}

func (m *Monitor) heartbeat(now time.Time) {
	start := time.Now()
	res := m.agg.Tick(now)
	s := m.agg.Snapshot(now)
	defer m.snap.Store(&s)
	if res.Committed {
		m.log.WithFields(logrus.Fields{"avg": s.AvgKmh, "nowait": s.NowaitKmh, "buckets": s.Buckets}).Debug("bucket committed")
	}
	for _, sink := range m.sinks {
		if err := sink.Publish(s); err != nil {
			m.log.WithError(err).Warn("publish telemetry failed")
		}
	}
	if m.metrics != nil {
		m.metrics.TickObserve(time.Since(start), s, res)
	}
}

func (m *Monitor) store(now time.Time) trip.Snapshot {
	s := m.agg.Snapshot(now)
	m.snap.Store(&s)
	return s
}

func (m *Monitor) report(msg string) {
	if m.reporter != nil {
		m.reporter.Report(msg)
	}
}

func (m *Monitor) safely(fn func()) (err error) {
	defer func() {
		if v := recover(); v != nil {
			fault := report.FromPanic(v)
			m.log.WithField("file", fault.File).WithField("line", fault.Line).Error("fault while handling trip event")
			m.report(fault.Error())
			err = fault
		}
	}()
	fn()
	return nil
}
