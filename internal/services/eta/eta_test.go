package eta

import (
	"testing"
	"time"

	"github.com/BearBump/LiveTrack/internal/geo"
	"github.com/stretchr/testify/require"
)

func TestCompute_SamePoint(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	p := geo.Point{Lat: 40.7128, Lng: -74.006}

	e := Compute(p, p, 20, now)
	require.InDelta(t, 0, e.DistanceKm, 1e-9)
	require.InDelta(t, 0, e.Minutes, 1e-9)
	require.Equal(t, "0 min", e.Text)
	require.Equal(t, "12:00", e.ArrivalTime)
}

func TestCompute_UsesSpeed(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a := geo.Point{Lat: 0, Lng: 0}
	b := geo.Point{Lat: 0, Lng: 0.1} // ~11.12 km

	e := Compute(a, b, 20, now)
	require.InDelta(t, 11.12, e.DistanceKm, 0.01)
	require.InDelta(t, e.DistanceKm/20*60, e.Minutes, 1e-9)
	require.Equal(t, "33 min", e.Text)
	require.Equal(t, "12:33", e.ArrivalTime)
}

func TestCompute_NonPositiveSpeedFallsBackToDefault(t *testing.T) {
	now := time.Now()
	a := geo.Point{Lat: 0, Lng: 0}
	b := geo.Point{Lat: 0, Lng: 0.1}

	require.Equal(t, Compute(a, b, DefaultSpeedKmh, now).Minutes, Compute(a, b, 0, now).Minutes)
	require.Equal(t, Compute(a, b, DefaultSpeedKmh, now).Minutes, Compute(a, b, -5, now).Minutes)
}

func TestFormatMinutes(t *testing.T) {
	cases := map[float64]string{
		0:     "0 min",
		0.4:   "0 min",
		59.4:  "59 min",
		59.6:  "1 hr 0 min",
		60:    "1 hr 0 min",
		61:    "1 hr 1 min",
		119.7: "2 hr 0 min",
		135:   "2 hr 15 min",
		-3:    "0 min",
	}
	for in, want := range cases {
		require.Equal(t, want, FormatMinutes(in), "minutes=%v", in)
	}
}
