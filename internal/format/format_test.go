package format

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		secs float64
		res  Resolution
		want string
	}{
		{0, None, "0s"},
		{0, Minute, "0m"},
		{0, Day, "0d"},
		{65, Minute, "1m"},
		{59, Minute, "0m"},
		{90061, None, "1d 1h 1m 1s"},
		{90061, Hour, "1d 1h"},
		{90061, Day, "1d"},
		{3600, None, "1h"},
		{3605, Second, "1h 5s"},
		{61.75, Second, "1m 1s"},
		{1.5, None, "1.5s"},
		{0.4, Second, "0s"},
		{-3, None, "0s"},
		{math.NaN(), Second, "0s"},
		{172800 + 120, Minute, "2d 2m"},
	}
	for _, tt := range tests {
		got := Duration(tt.secs, tt.res)
		assert.Equal(t, tt.want, got, "Duration(%v, %q)", tt.secs, tt.res)
		assert.NotEmpty(t, got)
	}
}

func TestCompass(t *testing.T) {
	tests := map[float64]string{
		0:     "N",
		11.24: "N",
		11.25: "NE",
		22.5:  "NE",
		45:    "NE",
		67.5:  "NE",
		112.5: "SE",
		90:    "E",
		135:   "SE",
		180:   "S",
		225:   "SW",
		270:   "W",
		315:   "NW",
		349:   "N",
		359:   "N",
		360:   "N",
		-90:   "W",
	}
	for deg, want := range tests {
		assert.Equal(t, want, Compass(deg), "Compass(%v)", deg)
	}
	assert.Empty(t, Compass(math.NaN()))
}

func TestClockHHMM(t *testing.T) {
	assert.Equal(t, "07:05", ClockHHMM(7, 5))
	assert.Equal(t, "23:59", ClockHHMM(23, 59))
	assert.Equal(t, "00:00", ClockHHMM(0, 0))
}

func TestSpeed(t *testing.T) {
	assert.Equal(t, "13", Speed0(12.5))
	assert.Equal(t, "0", Speed0(0.2))
	assert.Equal(t, "3.6", Speed1(3.6))
	assert.Equal(t, "12.0", Speed1(12))
	assert.Equal(t, "0.0", Speed1(0))
	assert.Equal(t, "25.3", Speed1(25.26))
}

func TestAgo(t *testing.T) {
	assert.Equal(t, "0s ago", Ago(0))
	assert.Equal(t, "1m 5s ago", Ago(65.9))
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("m")
	require.NoError(t, err)
	assert.Equal(t, Minute, r)

	r, err = ParseResolution("")
	require.NoError(t, err)
	assert.Equal(t, None, r)

	_, err = ParseResolution("w")
	assert.Error(t, err)
}
