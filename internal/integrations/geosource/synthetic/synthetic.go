package synthetic

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
)

// MaxStepDeg bounds the per-sample offset on each axis.
const MaxStepDeg = 0.0005

// Default start point when nothing better is known (New York City).
var (
	DefaultLat = 40.7128
	DefaultLng = -74.0060
)

type Rand interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Source is a random walk. It stands in for the device when no real fix
// can be obtained so the position stream never stops.
type Source struct {
	mu   sync.Mutex
	rnd  Rand
	last models.Position
	now  func() time.Time
}

// New starts the walk at (lat, lng). rnd may be nil.
func New(lat, lng float64, rnd Rand) *Source {
	if rnd == nil {
		rnd = &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	return &Source{
		rnd:  rnd,
		last: models.Position{Lat: lat, Lng: lng},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Next perturbs from by up to MaxStepDeg on each axis.
func (s *Source) Next(from models.Position) models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.Position{
		Lat:       clamp(from.Lat+s.offset(), -90, 90),
		Lng:       clamp(from.Lng+s.offset(), -180, 180),
		Timestamp: s.now(),
		Simulated: true,
	}
	s.last = p
	return p
}

// Current continues the walk from the last emitted point.
func (s *Source) Current(ctx context.Context) (models.Position, error) {
	if err := ctx.Err(); err != nil {
		return models.Position{}, err
	}
	s.mu.Lock()
	from := s.last
	s.mu.Unlock()
	return s.Next(from), nil
}

// (rand-0.5)*2*step
func (s *Source) offset() float64 {
	return (s.rnd.Float64() - 0.5) * 2 * MaxStepDeg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
