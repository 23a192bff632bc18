// Package provider delivers position fixes from location sources (NATS,
// MQTT/OwnTracks, a serial NMEA receiver, or a recorded track) as a stream
// of events.
package provider

import (
	"context"
	"errors"
	"time"

	"bicimon/internal/timeutil"
	"bicimon/internal/trip"
)

var (
	// ErrTimeout is reported when no fix arrived within Options.Timeout.
	ErrTimeout = errors.New("timeout expired")
	// ErrNoFix is reported when a receiver is running but has no position.
	ErrNoFix = errors.New("position unavailable")
)

// Event is either a fix or a provider error.
type Event struct {
	Fix trip.RawFix
	Err error
}

func FixEvent(f trip.RawFix) Event { return Event{Fix: f} }

func ErrorEvent(err error) Event { return Event{Err: err} }

// Options are the knobs a location source is asked to honour.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
}

func DefaultOptions() Options {
	return Options{HighAccuracy: true, Timeout: 15 * time.Second}
}

// Provider pushes events to out until ctx is cancelled or the source fails
// for good. Transient failures are sent as error events instead.
type Provider interface {
	Watch(ctx context.Context, out chan<- Event) error
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Watchdog wraps a provider and reports ErrTimeout whenever the source stays
// silent for Timeout. After reporting it re-arms for another full window.
type Watchdog struct {
	Provider Provider
	Timeout  time.Duration
	Clock    timeutil.Clock
}

func NewWatchdog(p Provider, timeout time.Duration, clock timeutil.Clock) *Watchdog {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Watchdog{Provider: p, Timeout: timeout, Clock: clock}
}

func (w *Watchdog) Watch(ctx context.Context, out chan<- Event) error {
	if w.Timeout <= 0 {
		return w.Provider.Watch(ctx, out)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inner := make(chan Event)
	errc := make(chan error, 1)
	go func() { errc <- w.Provider.Watch(ctx, inner) }()

	deadline := w.Clock.Now().Add(w.Timeout)
	ticker := w.Clock.NewTicker(checkInterval(w.Timeout))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-errc
			return ctx.Err()
		case err := <-errc:
			return err
		case ev := <-inner:
			if ev.Err == nil {
				deadline = w.Clock.Now().Add(w.Timeout)
			}
			send(ctx, out, ev)
		case now := <-ticker.C():
			if now.Before(deadline) {
				continue
			}
			deadline = now.Add(w.Timeout)
			send(ctx, out, ErrorEvent(ErrTimeout))
		}
	}
}

func checkInterval(timeout time.Duration) time.Duration {
	d := timeout / 15
	switch {
	case d < 100*time.Millisecond:
		return 100 * time.Millisecond
	case d > time.Second:
		return time.Second
	}
	return d
}
