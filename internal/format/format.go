// Package format renders trip values for display.
package format

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Resolution is the finest duration component kept by Duration.
type Resolution string

const (
	None   Resolution = ""
	Day    Resolution = "d"
	Hour   Resolution = "h"
	Minute Resolution = "m"
	Second Resolution = "s"
)

// ParseResolution accepts "", "d", "h", "m" or "s".
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.TrimSpace(s)); r {
	case None, Day, Hour, Minute, Second:
		return r, nil
	}
	return None, fmt.Errorf("invalid resolution: %q", s)
}

// ClockHHMM renders a 24-hour wall-clock time as HH:MM.
func ClockHHMM(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// Duration renders seconds as "1d 2h 3m 4s", leaving out zero components and
// components finer than res. It never returns an empty string: an all-zero
// duration renders as "0" followed by the resolution unit ("0s" for None).
func Duration(totalSeconds float64, res Resolution) string {
	secs := totalSeconds
	if math.IsNaN(secs) || secs < 0 {
		secs = 0
	}
	mins := math.Floor(secs / 60)
	secs = math.Mod(secs, 60)
	hours := math.Floor(mins / 60)
	mins = math.Mod(mins, 60)
	days := math.Floor(hours / 24)
	hours = math.Mod(hours, 24)

	switch res {
	case Day:
		hours, mins, secs = 0, 0, 0
	case Hour:
		mins, secs = 0, 0
	case Minute:
		secs = 0
	case Second:
		secs = math.Floor(secs)
	}

	var parts []string
	for _, c := range []struct {
		v    float64
		unit string
	}{{days, "d"}, {hours, "h"}, {mins, "m"}, {secs, "s"}} {
		if c.v > 0 {
			parts = append(parts, strconv.FormatFloat(c.v, 'f', -1, 64)+c.unit)
		}
	}
	if len(parts) == 0 {
		if res == None {
			return "0s"
		}
		return "0" + string(res)
	}
	return strings.Join(parts, " ")
}

// Ago renders a staleness delay, e.g. "12s ago".
func Ago(seconds float64) string {
	return Duration(seconds, Second) + " ago"
}

var compass = [...]string{"N", "NE", "NE", "NE", "E", "SE", "SE", "SE", "S", "SW", "SW", "SW", "W", "NW", "NW", "NW"}

// Compass maps a heading to the nearest of 16 sectors of 22.5°, but labels
// them with the 8 winds only: the sectors either side of a diagonal share
// its label, so 22.5° (NNE) and 67.5° (ENE) both read "NE", while N, E, S
// and W cover a single sector each. Sector 16 wraps to sector 0, so both 0°
// and 359° read "N". NaN gives "".
func Compass(degrees float64) string {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return ""
	}
	sector := int(math.Round(degrees/22.5)) % len(compass)
	if sector < 0 {
		sector += len(compass)
	}
	return compass[sector]
}

// Speed0 renders a speed rounded to whole km/h.
func Speed0(kmh float64) string {
	return strconv.FormatFloat(math.Round(kmh), 'f', 0, 64)
}

// Speed1 renders a speed with exactly one decimal.
func Speed1(kmh float64) string {
	return strconv.FormatFloat(math.Round(kmh*10)/10, 'f', 1, 64)
}
