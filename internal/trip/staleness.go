package trip

import "time"

// StalenessTracker reports how long ago the last fix was taken.
type StalenessTracker struct {
	last Option[time.Time]
}

func (s *StalenessTracker) Accept(ts time.Time) { s.last = Some(ts) }

func (s *StalenessTracker) LastFix() Option[time.Time] { return s.last }

// Delay is absent until the first fix. A fix stamped ahead of now (clock
// skew between provider and host) reads as zero delay.
func (s *StalenessTracker) Delay(now time.Time) Option[float64] {
	if !s.last.Valid {
		return None[float64]()
	}
	d := now.Sub(s.last.Value).Seconds()
	if d < 0 {
		d = 0
	}
	return Some(d)
}
