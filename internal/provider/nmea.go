package provider

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"bicimon/internal/trip"
)

const knotsToMps = 1852.0 / 3600.0

var errChecksum = errors.New("nmea checksum mismatch")

// NMEA assembles fixes from a receiver's sentence stream. RMC sentences
// produce a fix; GGA and GST contribute altitude and accuracy, which are
// carried into the next RMC.
type NMEA struct {
	altitude         trip.Option[float64]
	altitudeAccuracy trip.Option[float64]
	accuracy         trip.Option[float64]
}

// Feed consumes one sentence. ok reports whether an event was produced.
// Sentence types other than RMC, GGA and GST are ignored.
func (n *NMEA) Feed(line string) (ev Event, ok bool, err error) {
	fields, err := splitSentence(line)
	if err != nil || fields == nil {
		return Event{}, false, err
	}
	if len(fields[0]) < 5 {
		return Event{}, false, fmt.Errorf("nmea: bad address %q", fields[0])
	}
	switch fields[0][2:] {
	case "RMC":
		return n.rmc(fields)
	case "GGA":
		n.gga(fields)
	case "GST":
		n.gst(fields)
	}
	return Event{}, false, nil
}

func (n *NMEA) rmc(f []string) (Event, bool, error) {
	if len(f) < 10 {
		return Event{}, false, fmt.Errorf("nmea: short RMC sentence")
	}
	if f[2] != "A" {
		return ErrorEvent(ErrNoFix), true, nil
	}
	ts, err := parseDateTime(f[9], f[1])
	if err != nil {
		return Event{}, false, err
	}
	fix := trip.RawFix{
		Timestamp:        ts,
		Altitude:         n.altitude,
		AltitudeAccuracy: n.altitudeAccuracy,
		Accuracy:         n.accuracy,
	}
	if knots := parseOpt(f[7]); knots.Valid {
		fix.SpeedMps = trip.Some(knots.Value * knotsToMps)
	}
	fix.Heading = parseOpt(f[8])
	return FixEvent(fix), true, nil
}

func (n *NMEA) gga(f []string) {
	if len(f) < 10 {
		return
	}
	if f[6] == "" || f[6] == "0" {
		n.altitude = trip.None[float64]()
		return
	}
	n.altitude = parseOpt(f[9])
}

func (n *NMEA) gst(f []string) {
	if len(f) < 9 {
		return
	}
	lat, lon := parseOpt(f[6]), parseOpt(f[7])
	if lat.Valid && lon.Valid {
		n.accuracy = trip.Some(math.Hypot(lat.Value, lon.Value))
	}
	n.altitudeAccuracy = parseOpt(f[8])
}

// splitSentence validates framing and checksum and returns the comma
// separated fields without the leading '$'. Blank lines yield nil.
func splitSentence(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if line[0] != '$' {
		return nil, fmt.Errorf("nmea: missing '$' in %q", line)
	}
	body := line[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		want, err := strconv.ParseUint(body[i+1:], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("nmea: bad checksum field: %w", err)
		}
		body = body[:i]
		if uint64(checksum(body)) != want {
			return nil, errChecksum
		}
	}
	return strings.Split(body, ","), nil
}

func checksum(body string) byte {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return cs
}

func parseOpt(s string) trip.Option[float64] {
	if s == "" {
		return trip.None[float64]()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return trip.None[float64]()
	}
	return trip.Some(v)
}

// parseDateTime reads an RMC ddmmyy date and hhmmss[.sss] UTC time.
func parseDateTime(date, clock string) (time.Time, error) {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, fmt.Errorf("nmea: bad date/time %q %q", date, clock)
	}
	atoi := func(s string) int {
		v, _ := strconv.Atoi(s)
		return v
	}
	secs, err := strconv.ParseFloat(clock[4:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("nmea: bad time %q: %w", clock, err)
	}
	whole := math.Floor(secs)
	return time.Date(2000+atoi(date[4:6]), time.Month(atoi(date[2:4])), atoi(date[0:2]),
		atoi(clock[0:2]), atoi(clock[2:4]), int(whole), int((secs-whole)*1e9), time.UTC), nil
}
