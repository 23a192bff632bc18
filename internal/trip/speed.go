package trip

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// BucketSeconds is the width of one averaging window, aligned to epoch time.
const BucketSeconds = 5

// SpeedAggregator smooths per-second speed samples into 5 second buckets and
// keeps the long-run averages over the committed buckets.
type SpeedAggregator struct {
	current Option[float64]
	max     Option[float64]

	cache      []float64 // samples of the open window
	buckets    []float64 // committed window means, append-only
	lastCommit int64     // epoch second of the last commit

	avg       float64
	nowaitAvg float64
}

// Observe records the speed of a newly accepted fix. An absent speed clears
// current but never touches max.
func (s *SpeedAggregator) Observe(kmh Option[float64]) {
	s.current = kmh
	if !kmh.Valid {
		return
	}
	if !s.max.Valid || kmh.Value > s.max.Value {
		s.max = kmh
	}
}

// Tick samples the current speed and, on a bucket boundary, commits the open
// window. A boundary second commits at most once even if the scheduler
// delivers it twice. It reports whether a bucket was committed.
func (s *SpeedAggregator) Tick(now time.Time) bool {
	if s.current.Valid {
		s.cache = append(s.cache, s.current.Value)
	}
	committed := false
	sec := now.Unix()
	if sec%BucketSeconds == 0 && sec != s.lastCommit && len(s.cache) > 0 {
		s.buckets = append(s.buckets, stat.Mean(s.cache, nil))
		s.cache = s.cache[:0]
		s.lastCommit = sec
		committed = true
	}
	s.recompute()
	return committed
}

func (s *SpeedAggregator) recompute() {
	if len(s.buckets) == 0 {
		return
	}
	s.avg = stat.Mean(s.buckets, nil)

	moving := make([]float64, 0, len(s.buckets))
	for _, b := range s.buckets {
		if b >= MinMovingSpeedKmh {
			moving = append(moving, b)
		}
	}
	if len(moving) == 0 {
		s.nowaitAvg = 0
		return
	}
	s.nowaitAvg = stat.Mean(moving, nil)
}

func (s *SpeedAggregator) Current() Option[float64] { return s.current }
func (s *SpeedAggregator) Max() Option[float64]     { return s.max }
func (s *SpeedAggregator) Avg() float64             { return s.avg }
func (s *SpeedAggregator) NowaitAvg() float64       { return s.nowaitAvg }

// Buckets returns a copy of the committed bucket means.
func (s *SpeedAggregator) Buckets() []float64 {
	out := make([]float64, len(s.buckets))
	copy(out, s.buckets)
	return out
}

// Pending is the number of samples in the open window.
func (s *SpeedAggregator) Pending() int { return len(s.cache) }
