package locationagent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/LiveTrack/internal/integrations/geosource"
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/pkg/errors"
)

type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring"
	StateDegraded  State = "degraded"
)

// Sink receives every accepted sample.
type Sink interface {
	PushLocation(ctx context.Context, orderID string, p models.Position) error
}

// Synthesizer produces a fallback position near from.
type Synthesizer interface {
	Next(from models.Position) models.Position
}

type Config struct {
	Interval     time.Duration // default: 3s
	FetchTimeout time.Duration // default: 10s
	PushTimeout  time.Duration // default: 5s
	HistoryCap   int           // default: 100
	// Default seeds the synthetic walk when no real sample exists yet.
	Default models.Position

	OnSessionEnded func(*Session)
	Now            func() time.Time
}

// Agent keeps a stream of courier positions flowing to the sink for one
// order at a time. When the device source is missing or failing it
// switches to synthesized positions and reports StateDegraded.
type Agent struct {
	cfg   Config
	real  geosource.Source
	synth Synthesizer
	sink  Sink

	mu       sync.Mutex
	state    State
	sess     *Session
	cancel   context.CancelFunc
	done     chan struct{}
	nextObs  int
	watchers map[int]func(State)
}

// New builds an agent. real may be nil when detection found no usable
// device source; the agent then runs degraded from the first sample.
func New(cfg Config, real geosource.Source, synth Synthesizer, sink Sink) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 5 * time.Second
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 100
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Agent{
		cfg:      cfg,
		real:     real,
		synth:    synth,
		sink:     sink,
		state:    StateIdle,
		watchers: make(map[int]func(State)),
	}
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe registers fn for state changes. fn runs on the agent's
// goroutine and must not block. The returned func unsubscribes.
func (a *Agent) Subscribe(fn func(State)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextObs
	a.nextObs++
	a.watchers[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.watchers, id)
	}
}

type Snapshot struct {
	State        State            `json:"state"`
	OrderID      string           `json:"orderId,omitempty"`
	StartedAt    *time.Time       `json:"startedAt,omitempty"`
	Samples      int              `json:"samples"`
	LastPosition *models.Position `json:"lastPosition,omitempty"`
}

func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	s := a.sess
	snap := Snapshot{State: a.state}
	a.mu.Unlock()

	if s == nil {
		return snap
	}
	start := s.StartTime
	snap.OrderID = s.OrderID
	snap.StartedAt = &start
	snap.Samples = s.Samples()
	if p, ok := s.Last(); ok {
		snap.LastPosition = &p
	}
	return snap
}

// Start begins tracking orderID. It returns once the first sample (real or
// synthesized) has been taken. Starting the order that is already being
// tracked returns the running session; any other order gets
// ErrSessionActive together with the running session.
func (a *Agent) Start(ctx context.Context, orderID string) (*Session, error) {
	if orderID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "order id is required")
	}

	a.mu.Lock()
	if a.sess != nil {
		s := a.sess
		a.mu.Unlock()
		if s.OrderID == orderID {
			return s, nil
		}
		return s, errors.Wrapf(models.ErrSessionActive, "tracking order %s", s.OrderID)
	}
	s := newSession(orderID, a.cfg.Now(), a.cfg.HistoryCap)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	ready := make(chan struct{})
	a.sess, a.cancel, a.done = s, cancel, done
	a.mu.Unlock()

	slog.Info("agent: session started", "order_id", orderID)
	go a.run(runCtx, cancel, s, ready, done)
	<-ready
	return s, nil
}

// Stop ends the running session. It is safe to call at any time and any
// number of times.
func (a *Agent) Stop() {
	a.mu.Lock()
	s, cancel, done := a.sess, a.cancel, a.done
	a.mu.Unlock()
	if s == nil {
		return
	}
	cancel()
	<-done
	a.finish(s)
}

// CloseOrder stops the session if it is tracking orderID.
func (a *Agent) CloseOrder(orderID string) {
	a.mu.Lock()
	s := a.sess
	a.mu.Unlock()
	if s != nil && s.OrderID == orderID {
		a.Stop()
	}
}

func (a *Agent) run(ctx context.Context, cancel context.CancelFunc, s *Session, ready, done chan struct{}) {
	defer close(done)
	defer cancel()
	defer a.finish(s)

	readyOnce := sync.OnceFunc(func() { close(ready) })
	defer readyOnce()

	ok := a.sample(ctx, s, a.cfg.FetchTimeout)
	readyOnce()
	if !ok {
		return
	}

	var watch <-chan models.Position
	if w, ok := a.real.(geosource.Watcher); ok && a.State() == StateAcquiring {
		ch, err := w.Watch(ctx)
		if err != nil {
			slog.Warn("agent: continuous watch unavailable", "order_id", s.OrderID, "err", err)
		} else {
			watch = ch
		}
	}

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	var lastWatched time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
			lastWatched = a.cfg.Now()
			if !a.accept(ctx, s, p) {
				return
			}
		case <-ticker.C:
			if watch != nil && a.cfg.Now().Sub(lastWatched) < a.cfg.Interval {
				continue
			}
			timeout := a.cfg.FetchTimeout
			if a.State() == StateDegraded {
				timeout = min(timeout, a.cfg.Interval/2)
			}
			if !a.sample(ctx, s, timeout) {
				return
			}
		}
	}
}

// sample takes one position, falling back to a synthesized one. It
// returns false when the session should end.
func (a *Agent) sample(ctx context.Context, s *Session, timeout time.Duration) bool {
	if a.real != nil {
		fctx, cancel := context.WithTimeout(ctx, timeout)
		p, err := a.real.Current(fctx)
		cancel()
		if ctx.Err() != nil {
			return false
		}
		if err == nil {
			return a.accept(ctx, s, p)
		}
		if a.State() != StateDegraded {
			slog.Warn("agent: position fetch failed, synthesizing", "order_id", s.OrderID, "err", err)
		}
	}

	from, ok := s.Last()
	if !ok {
		from = a.cfg.Default
	}
	p := a.synth.Next(from)
	p.Simulated = true
	return a.accept(ctx, s, p)
}

func (a *Agent) accept(ctx context.Context, s *Session, p models.Position) bool {
	if p.Timestamp.IsZero() {
		p.Timestamp = a.cfg.Now()
	}
	s.record(p)
	if p.Simulated {
		a.setState(StateDegraded)
	} else {
		a.setState(StateAcquiring)
	}

	pctx, cancel := context.WithTimeout(ctx, a.cfg.PushTimeout)
	defer cancel()
	err := a.sink.PushLocation(pctx, s.OrderID, p)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotAuthorized), errors.Is(err, models.ErrNotFound):
		// order delivered, cancelled or reassigned
		slog.Info("agent: order no longer trackable, ending session", "order_id", s.OrderID, "err", err)
		return false
	case ctx.Err() != nil:
		return false
	default:
		slog.Warn("agent: push location failed", "order_id", s.OrderID, "err", err)
	}
	return true
}

func (a *Agent) setState(st State) {
	a.mu.Lock()
	if a.state == st {
		a.mu.Unlock()
		return
	}
	prev := a.state
	a.state = st
	fns := make([]func(State), 0, len(a.watchers))
	for _, fn := range a.watchers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	if st == StateDegraded {
		slog.Warn("agent: degraded, positions are synthesized", "from", prev)
	} else {
		slog.Info("agent: state changed", "from", prev, "to", st)
	}
	for _, fn := range fns {
		fn(st)
	}
}

func (a *Agent) finish(s *Session) {
	if !s.end(a.cfg.Now()) {
		return
	}

	a.mu.Lock()
	current := a.sess == s
	if current {
		a.sess, a.cancel, a.done = nil, nil, nil
	}
	a.mu.Unlock()
	if current {
		a.setState(StateIdle)
	}

	st, _ := s.Stats()
	slog.Info("agent: session ended",
		"order_id", s.OrderID,
		"samples", st.SampleCount,
		"distance_km", st.TotalDistanceKm,
		"avg_speed_kmh", st.AverageSpeedKmh,
	)
	if a.cfg.OnSessionEnded != nil {
		a.cfg.OnSessionEnded(s)
	}
}
