package synthetic

import (
	"context"
	"math"
	"testing"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/stretchr/testify/require"
)

type fixedRand []float64

func (f *fixedRand) Float64() float64 {
	v := (*f)[0]
	*f = (*f)[1:]
	return v
}

func TestNext_StaysWithinStep(t *testing.T) {
	s := New(DefaultLat, DefaultLng, nil)
	from := models.Position{Lat: DefaultLat, Lng: DefaultLng}
	for i := 0; i < 1000; i++ {
		p := s.Next(from)
		require.True(t, p.Simulated)
		require.LessOrEqual(t, math.Abs(p.Lat-from.Lat), MaxStepDeg)
		require.LessOrEqual(t, math.Abs(p.Lng-from.Lng), MaxStepDeg)
		require.False(t, p.Timestamp.IsZero())
		from = p
	}
}

func TestNext_Deterministic(t *testing.T) {
	r := fixedRand{1, 0, 0.5, 0.5}
	s := New(10, 20, &r)

	p := s.Next(models.Position{Lat: 10, Lng: 20})
	require.InDelta(t, 10+MaxStepDeg, p.Lat, 1e-12)
	require.InDelta(t, 20-MaxStepDeg, p.Lng, 1e-12)

	p, err := s.Current(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 10+MaxStepDeg, p.Lat, 1e-12)
	require.InDelta(t, 20-MaxStepDeg, p.Lng, 1e-12)
}

func TestNext_ClampsAtPoles(t *testing.T) {
	r := fixedRand{1, 1}
	p := New(90, 180, &r).Next(models.Position{Lat: 90, Lng: 180})
	require.Equal(t, 90.0, p.Lat)
	require.Equal(t, 180.0, p.Lng)
}

func TestCurrent_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(0, 0, nil).Current(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
