package locationagent

import (
	"math"
	"sync"
	"time"

	"github.com/BearBump/LiveTrack/internal/geo"
	"github.com/BearBump/LiveTrack/internal/models"
)

// history is a fixed-capacity ring of the most recent samples.
type history struct {
	buf  []models.Position
	head int
	n    int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]models.Position, capacity)}
}

func (h *history) add(p models.Position) {
	h.buf[h.head] = p
	h.head = (h.head + 1) % len(h.buf)
	if h.n < len(h.buf) {
		h.n++
	}
}

// items returns samples oldest first.
func (h *history) items() []models.Position {
	out := make([]models.Position, 0, h.n)
	start := (h.head - h.n + len(h.buf)) % len(h.buf)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(start+i)%len(h.buf)])
	}
	return out
}

func (h *history) last() (models.Position, bool) {
	if h.n == 0 {
		return models.Position{}, false
	}
	return h.buf[(h.head-1+len(h.buf))%len(h.buf)], true
}

// Session is one courier tracking run for one order.
type Session struct {
	OrderID   string
	StartTime time.Time

	mu        sync.Mutex
	hist      *history
	accepted  int
	simulated int
	// path length over every accepted sample, not only the retained ones
	distanceKm compensatedSum
	endTime    time.Time
	stats      *models.SessionStats

	endOnce sync.Once
}

func newSession(orderID string, start time.Time, capacity int) *Session {
	return &Session{OrderID: orderID, StartTime: start, hist: newHistory(capacity)}
}

func (s *Session) record(p models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.hist.last(); ok {
		s.distanceKm.add(geo.DistanceKm(geo.Point{Lat: prev.Lat, Lng: prev.Lng}, geo.Point{Lat: p.Lat, Lng: p.Lng}))
	}
	s.hist.add(p)
	s.accepted++
	if p.Simulated {
		s.simulated++
	}
}

// Locations returns the retained samples, oldest first.
func (s *Session) Locations() []models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.items()
}

func (s *Session) Last() (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.last()
}

func (s *Session) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Stats is available once the session has ended.
func (s *Session) Stats() (models.SessionStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats == nil {
		return models.SessionStats{}, false
	}
	return *s.stats, true
}

func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats != nil
}

// end freezes the statistics. Returns false if the session had already
// ended.
func (s *Session) end(at time.Time) bool {
	first := false
	s.endOnce.Do(func() {
		first = true
		s.mu.Lock()
		defer s.mu.Unlock()
		s.endTime = at
		s.stats = &models.SessionStats{
			TotalDistanceKm: s.distanceKm.value(),
			AverageSpeedKmh: averageSpeed(s.distanceKm.value(), at.Sub(s.StartTime)),
			SampleCount:     s.accepted,
			Elapsed:         at.Sub(s.StartTime),
		}
	})
	return first
}

func averageSpeed(distanceKm float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return distanceKm / elapsed.Hours()
}

// compensatedSum is a Neumaier sum: thousands of short legs add up without
// the rounding error of a plain running total.
type compensatedSum struct {
	sum, c float64
}

func (k *compensatedSum) add(x float64) {
	t := k.sum + x
	if math.Abs(k.sum) >= math.Abs(x) {
		k.c += (k.sum - t) + x
	} else {
		k.c += (x - t) + k.sum
	}
	k.sum = t
}

func (k *compensatedSum) value() float64 {
	return k.sum + k.c
}
