package provider

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bicimon/internal/db"
	"bicimon/internal/timeutil"
	"bicimon/internal/trip"
)

func TestDecodeGeolocation(t *testing.T) {
	ev, err := DecodeGeolocation([]byte(`{"timestamp":1700000000123,"coords":{"speed":5,"altitude":null,"heading":270.5,"accuracy":8}}`))
	require.NoError(t, err)
	require.NoError(t, ev.Err)
	assert.Equal(t, int64(1700000000123), ev.Fix.Timestamp.UnixMilli())
	assert.Equal(t, trip.Some(5.0), ev.Fix.SpeedMps)
	assert.False(t, ev.Fix.Altitude.Valid)
	assert.False(t, ev.Fix.AltitudeAccuracy.Valid)
	assert.Equal(t, trip.Some(270.5), ev.Fix.Heading)
	assert.Equal(t, trip.Some(8.0), ev.Fix.Accuracy)

	ev, err = DecodeGeolocation([]byte(`{"error":{"code":1,"message":"User denied Geolocation"}}`))
	require.NoError(t, err)
	assert.EqualError(t, ev.Err, "User denied Geolocation")

	ev, err = DecodeGeolocation([]byte(`{"error":{"code":3}}`))
	require.NoError(t, err)
	assert.EqualError(t, ev.Err, "location error code 3")

	_, err = DecodeGeolocation([]byte(`{"coords":{}}`))
	assert.Error(t, err)
	_, err = DecodeGeolocation([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeOwnTracks(t *testing.T) {
	fix, ok, err := DecodeOwnTracks([]byte(`{"_type":"location","tst":1700000000,"vel":18,"alt":512,"vac":4,"cog":92,"acc":6,"lat":48.1,"lon":11.5}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Unix(1700000000, 0), fix.Timestamp)
	assert.InDelta(t, 5.0, fix.SpeedMps.Value, 1e-9)
	assert.InDelta(t, 18.0, trip.Normalize(fix).SpeedKmh.Value, 1e-9)
	assert.Equal(t, trip.Some(512.0), fix.Altitude)
	assert.Equal(t, trip.Some(4.0), fix.AltitudeAccuracy)
	assert.Equal(t, trip.Some(92.0), fix.Heading)
	assert.Equal(t, trip.Some(6.0), fix.Accuracy)

	_, ok, err = DecodeOwnTracks([]byte(`{"_type":"transition","tst":1700000000}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = DecodeOwnTracks([]byte(`{"_type":"location"}`))
	assert.Error(t, err)
}

func TestCommandTopic(t *testing.T) {
	assert.Equal(t, "owntracks/anna/phone/cmd", commandTopic("owntracks/anna/phone"))
	assert.Empty(t, commandTopic("owntracks/+/+"))
	assert.Empty(t, commandTopic("owntracks/#"))
}

func TestMQTT_CancelWhileConnecting(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := NewMQTT(MQTTConfig{
		Broker:   "tcp://127.0.0.1:1",
		ClientID: "bicimon-test",
		Topic:    "owntracks/anna/phone",
	}, Options{}, log)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Watch(ctx, make(chan Event, 1)) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel with an unreachable broker")
	}
}

func sentence(body string) string {
	return "$" + body + "*" + strings.ToUpper(hex2(checksum(body)))
}

func hex2(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0x0f]})
}

func TestNMEA_Feed(t *testing.T) {
	var n NMEA

	_, ok, err := n.Feed(sentence("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = n.Feed(sentence("GPGST,123519,1.2,3.0,2.0,45.0,3.0,4.0,5.5"))
	require.NoError(t, err)
	assert.False(t, ok)

	ev, ok, err := n.Feed(sentence("GPRMC,123519.50,A,4807.038,N,01131.000,E,10.0,084.4,230394,003.1,W"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, ev.Err)
	assert.Equal(t, time.Date(2094, 3, 23, 12, 35, 19, 500_000_000, time.UTC), ev.Fix.Timestamp)
	assert.InDelta(t, 5.14444, ev.Fix.SpeedMps.Value, 1e-4)
	assert.Equal(t, trip.Some(84.4), ev.Fix.Heading)
	assert.Equal(t, trip.Some(545.4), ev.Fix.Altitude)
	assert.Equal(t, trip.Some(5.0), ev.Fix.Accuracy)
	assert.Equal(t, trip.Some(5.5), ev.Fix.AltitudeAccuracy)

	ev, ok, err = n.Feed(sentence("GNRMC,123520,V,,,,,,,230394,,"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.ErrorIs(t, ev.Err, ErrNoFix)

	ev, ok, err = n.Feed(sentence("GPRMC,123521,A,4807.038,N,01131.000,E,,,230394,,"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, ev.Fix.SpeedMps.Valid)
	assert.False(t, ev.Fix.Heading.Valid)

	_, _, err = n.Feed("$GPRMC,123519,A*00")
	assert.ErrorIs(t, err, errChecksum)
	_, _, err = n.Feed("GPRMC,123519")
	assert.Error(t, err)

	_, ok, err = n.Feed("")
	assert.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = n.Feed(sentence("GPGSV,3,1,11,03,03,111,00"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestReadNMEA(t *testing.T) {
	log, _ := test.NewNullLogger()
	input := strings.Join([]string{
		sentence("GPRMC,000001,A,4807.038,N,01131.000,E,1.0,10.0,010126,,"),
		"$garbage*ZZ",
		sentence("GPRMC,000002,V,,,,,,,010126,,"),
		sentence("GPRMC,000003,A,4807.038,N,01131.000,E,2.0,20.0,010126,,"),
	}, "\r\n")

	out := make(chan Event, 8)
	err := ReadNMEA(context.Background(), strings.NewReader(input), out, log)
	assert.ErrorIs(t, err, io.EOF)
	close(out)

	var got []Event
	for ev := range out {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.NoError(t, got[0].Err)
	assert.ErrorIs(t, got[1].Err, ErrNoFix)
	assert.Equal(t, 3, got[2].Fix.Timestamp.Second())
}

type chanProvider struct{ ch chan Event }

func (p chanProvider) Watch(ctx context.Context, out chan<- Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.ch:
			if !send(ctx, out, ev) {
				return ctx.Err()
			}
		}
	}
}

func recv(t *testing.T, out <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-out:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return Event{}
}

func assertQuiet(t *testing.T, out <-chan Event) {
	t.Helper()
	select {
	case ev := <-out:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchdog_ReportsSilenceAndRearms(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := timeutil.NewMockClock(start)
	src := chanProvider{ch: make(chan Event)}
	w := NewWatchdog(src, 3*time.Second, clock)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event)
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, out) }()
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)

	clock.Advance(2 * time.Second)
	assertQuiet(t, out)

	clock.Advance(time.Second)
	assert.ErrorIs(t, recv(t, out).Err, ErrTimeout)

	src.ch <- FixEvent(trip.RawFix{Timestamp: clock.Now(), SpeedMps: trip.Some(3.0)})
	assert.NoError(t, recv(t, out).Err)

	clock.Advance(2 * time.Second)
	assertQuiet(t, out)

	clock.Advance(time.Second)
	assert.ErrorIs(t, recv(t, out).Err, ErrTimeout)

	// Provider errors pass through and do not count as fixes.
	src.ch <- ErrorEvent(errors.New("position unavailable"))
	assert.EqualError(t, recv(t, out).Err, "position unavailable")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchdog_Disabled(t *testing.T) {
	src := chanProvider{ch: make(chan Event)}
	w := NewWatchdog(src, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 1)
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, out) }()
	src.ch <- FixEvent(trip.RawFix{})
	recv(t, out)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestReplay(t *testing.T) {
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "replay.db"))
	require.NoError(t, err)
	defer sqlDB.Close()
	_, err = sqlDB.Exec(db.Schema)
	require.NoError(t, err)
	_, err = sqlDB.Exec(`INSERT INTO fixes (track_id, recorded_at_ms, speed_mps) VALUES
		('ride', 1000, 1.0), ('ride', 3000, 2.0), ('ride', 7000, 3.0)`)
	require.NoError(t, err)

	now := time.Unix(1_800_000_000, 0)
	log, _ := test.NewNullLogger()
	r := NewReplay(sqlDB, "", 2, timeutil.NewMockClock(now), log)
	var mu sync.Mutex
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		slept = append(slept, d)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Event, 3)
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, out) }()

	for i, want := range []float64{1, 2, 3} {
		ev := recv(t, out)
		assert.Equal(t, trip.Some(want), ev.Fix.SpeedMps, "fix %d", i)
		assert.Equal(t, now, ev.Fix.Timestamp, "fixes are stamped live")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestReplay_EmptyTable(t *testing.T) {
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer sqlDB.Close()
	_, err = sqlDB.Exec(db.Schema)
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	err = NewReplay(sqlDB, "", 1, nil, log).Watch(context.Background(), make(chan Event))
	assert.ErrorIs(t, err, db.ErrNoTracks)
}
