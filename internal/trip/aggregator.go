// Package trip holds the state of one trip and the rules that fold fixes and
// heartbeats into running statistics. Nothing in this package is safe for
// concurrent use; a single owner (see package monitor) must serialize calls.
package trip

import (
	"time"

	"github.com/google/uuid"
)

// Aggregator owns all per-trip state. Create exactly one per trip.
type Aggregator struct {
	id string

	speed     SpeedAggregator
	durations DurationTracker
	staleness StalenessTracker

	last      Fix
	lastError string

	fixes          int
	providerErrors int
}

// TickResult describes what a heartbeat changed.
type TickResult struct {
	Committed bool // a 5s bucket was committed
	Waited    bool // a waiting second was counted
}

// NewAggregator starts a trip at start.
func NewAggregator(start time.Time) *Aggregator {
	return &Aggregator{
		id:        uuid.NewString(),
		durations: NewDurationTracker(start),
	}
}

func (a *Aggregator) ID() string { return a.id }

// ApplyFix accepts a fix. The display fields are replaced wholesale by the
// new fix, including ones the provider left empty.
func (a *Aggregator) ApplyFix(f Fix) {
	a.speed.Observe(f.SpeedKmh)
	a.staleness.Accept(f.Timestamp)
	a.last = f
	a.lastError = ""
	a.fixes++
}

// ApplyProviderError keeps the message for display. Speed, duration and
// staleness state are left untouched.
func (a *Aggregator) ApplyProviderError(err error) string {
	a.providerErrors++
	if err == nil {
		a.lastError = "unknown location error"
	} else {
		a.lastError = err.Error()
	}
	return a.lastError
}

// Tick processes one heartbeat.
func (a *Aggregator) Tick(now time.Time) TickResult {
	committed := a.speed.Tick(now)
	waited := a.durations.Tick(a.speed.Current())
	return TickResult{Committed: committed, Waited: waited}
}

// Snapshot copies the current state as seen at now.
func (a *Aggregator) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		TripID:    a.id,
		At:        now,
		TripStart: a.durations.Start(),

		CurrentKmh: a.speed.Current(),
		MaxKmh:     a.speed.Max(),
		AvgKmh:     a.speed.Avg(),
		NowaitKmh:  a.speed.NowaitAvg(),
		Buckets:    len(a.speed.buckets),

		TripSeconds:    a.durations.TripSeconds(now),
		WaitingSeconds: a.durations.WaitingSeconds(),
		LastFix:        a.staleness.LastFix(),
		DelaySeconds:   a.staleness.Delay(now),

		HeadingDegrees:           a.last.HeadingDegrees,
		AltitudeMeters:           a.last.AltitudeMeters,
		AltitudeAccuracyMeters:   a.last.AltitudeAccuracyMeters,
		HorizontalAccuracyMeters: a.last.HorizontalAccuracyMeters,

		LastError:      a.lastError,
		Fixes:          a.fixes,
		ProviderErrors: a.providerErrors,
	}
}

// Speed exposes the speed aggregator for inspection.
func (a *Aggregator) Speed() *SpeedAggregator { return &a.speed }
