// Package view turns a trip snapshot into the strings a dashboard shows.
package view

import (
	"math"
	"time"

	"bicimon/internal/format"
	"bicimon/internal/trip"
)

// Placeholder is shown for values that are not known yet.
const Placeholder = "-"

// View is the display model of a trip. Raw carries the unformatted snapshot
// for clients that render themselves.
type View struct {
	StartTime string `json:"startTime"`
	TripTime  string `json:"tripTime"`
	WaitTime  string `json:"waitTime"`
	Updated   string `json:"updated"`

	Speed       string `json:"speed"`
	MaxSpeed    string `json:"maxSpeed"`
	AvgSpeed    string `json:"avgSpeed"`
	NowaitSpeed string `json:"nowaitSpeed"`

	Heading          string   `json:"heading"`
	Altitude         *float64 `json:"altitude"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy"`
	Accuracy         *float64 `json:"accuracy"`

	Error    string `json:"error,omitempty"`
	WakeLock bool   `json:"wakeLock"`

	Raw trip.Snapshot `json:"raw"`
}

// Build formats s. Trip start is shown in loc.
func Build(s trip.Snapshot, loc *time.Location) View {
	if loc == nil {
		loc = time.Local
	}
	start := s.TripStart.In(loc)
	v := View{
		StartTime: format.ClockHHMM(start.Hour(), start.Minute()),
		TripTime:  format.Duration(s.TripSeconds, format.Minute),
		WaitTime:  format.Duration(float64(s.WaitingSeconds), format.Second),
		Updated:   Placeholder,

		Speed:       Placeholder,
		MaxSpeed:    Placeholder,
		AvgSpeed:    format.Speed1(s.AvgKmh),
		NowaitSpeed: format.Speed1(s.NowaitKmh),

		Heading:          Placeholder,
		Altitude:         ptr(s.AltitudeMeters),
		AltitudeAccuracy: ptr(s.AltitudeAccuracyMeters),
		Accuracy:         ptr(s.HorizontalAccuracyMeters),

		Error: s.LastError,
		Raw:   s,
	}
	if s.DelaySeconds.Valid {
		v.Updated = format.Ago(s.DelaySeconds.Value)
	}
	if s.CurrentKmh.Valid {
		v.Speed = format.Speed0(s.CurrentKmh.Value)
	}
	if s.MaxKmh.Valid {
		v.MaxSpeed = format.Speed1(s.MaxKmh.Value)
	}
	if s.HeadingDegrees.Valid {
		v.Heading = format.Compass(s.HeadingDegrees.Value)
	}
	return v
}

func ptr(o trip.Option[float64]) *float64 {
	if !o.Valid || math.IsNaN(o.Value) {
		return nil
	}
	v := math.Round(o.Value*10) / 10
	return &v
}
