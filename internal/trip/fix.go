package trip

import (
	"math"
	"time"
)

// MinMovingSpeedKmh separates moving from waiting. Below it the rider counts
// as stopped for both waiting time and the moving-only average.
const MinMovingSpeedKmh = 3.0

// MpsToKmh converts metres per second to kilometres per hour.
const MpsToKmh = 3.6

// RawFix is a fix as a location provider reports it, speed in m/s.
type RawFix struct {
	Timestamp        time.Time
	SpeedMps         Option[float64]
	Altitude         Option[float64] // meters
	AltitudeAccuracy Option[float64] // meters
	Heading          Option[float64] // degrees, 0 = north
	Accuracy         Option[float64] // horizontal, meters
}

// Fix is one accepted position sample with speed in km/h. Each fix replaces
// the previous one; fixes are never merged.
type Fix struct {
	Timestamp                time.Time       `json:"timestamp"`
	SpeedKmh                 Option[float64] `json:"speedKmh"`
	AltitudeMeters           Option[float64] `json:"altitudeMeters"`
	AltitudeAccuracyMeters   Option[float64] `json:"altitudeAccuracyMeters"`
	HeadingDegrees           Option[float64] `json:"headingDegrees"`
	HorizontalAccuracyMeters Option[float64] `json:"horizontalAccuracyMeters"`
}

// Normalize converts a provider fix into a Fix. Speeds that are NaN, infinite
// or negative become absent, and headings are wrapped into [0,360).
func Normalize(r RawFix) Fix {
	f := Fix{
		Timestamp:                r.Timestamp,
		AltitudeMeters:           finite(r.Altitude),
		AltitudeAccuracyMeters:   finite(r.AltitudeAccuracy),
		HorizontalAccuracyMeters: finite(r.Accuracy),
	}
	if s := finite(r.SpeedMps); s.Valid && s.Value >= 0 {
		f.SpeedKmh = Some(s.Value * MpsToKmh)
	}
	if h := finite(r.Heading); h.Valid {
		deg := math.Mod(h.Value, 360)
		if deg < 0 {
			deg += 360
		}
		f.HeadingDegrees = Some(deg)
	}
	return f
}

func finite(o Option[float64]) Option[float64] {
	if !o.Valid || math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		return None[float64]()
	}
	return o
}
