package trip

import "time"

// Snapshot is an immutable copy of the trip state at one instant. It is what
// presentation code reads; it is never written back.
type Snapshot struct {
	TripID    string    `json:"tripId"`
	At        time.Time `json:"at"`
	TripStart time.Time `json:"tripStart"`

	CurrentKmh Option[float64] `json:"currentKmh"`
	MaxKmh     Option[float64] `json:"maxKmh"`
	AvgKmh     float64         `json:"avgKmh"`
	NowaitKmh  float64         `json:"nowaitAvgKmh"`
	Buckets    int             `json:"buckets"`

	TripSeconds    float64           `json:"tripSeconds"`
	WaitingSeconds int               `json:"waitingSeconds"`
	LastFix        Option[time.Time] `json:"lastFix"`
	DelaySeconds   Option[float64]   `json:"delaySeconds"`

	HeadingDegrees           Option[float64] `json:"headingDegrees"`
	AltitudeMeters           Option[float64] `json:"altitudeMeters"`
	AltitudeAccuracyMeters   Option[float64] `json:"altitudeAccuracyMeters"`
	HorizontalAccuracyMeters Option[float64] `json:"horizontalAccuracyMeters"`

	LastError      string `json:"lastError,omitempty"`
	Fixes          int    `json:"fixes"`
	ProviderErrors int    `json:"providerErrors"`
}
