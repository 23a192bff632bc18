package trip

import "time"

// DurationTracker keeps trip and waiting time. Trip time is derived from the
// wall clock; waiting time is counted one second per heartbeat and can
// undercount when ticks are dropped.
type DurationTracker struct {
	start   time.Time
	waiting int
}

func NewDurationTracker(start time.Time) DurationTracker {
	return DurationTracker{start: start}
}

// Tick accrues one waiting second when a speed is known and below the moving
// threshold. It reports whether the counter advanced.
func (d *DurationTracker) Tick(current Option[float64]) bool {
	if !current.Valid || current.Value >= MinMovingSpeedKmh {
		return false
	}
	d.waiting++
	return true
}

func (d *DurationTracker) Start() time.Time { return d.start }

func (d *DurationTracker) WaitingSeconds() int { return d.waiting }

// TripSeconds is the elapsed time since trip start, never negative.
func (d *DurationTracker) TripSeconds(now time.Time) float64 {
	s := now.Sub(d.start).Seconds()
	if s < 0 {
		return 0
	}
	return s
}
