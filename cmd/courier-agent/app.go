package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/LiveTrack/config"
	"github.com/BearBump/LiveTrack/internal/integrations/geosource"
	"github.com/BearBump/LiveTrack/internal/integrations/geosource/devicehttp"
	"github.com/BearBump/LiveTrack/internal/integrations/geosource/synthetic"
	"github.com/BearBump/LiveTrack/internal/integrations/trackapi"
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/BearBump/LiveTrack/internal/services/locationagent"
)

type agentFactories struct {
	newDevice func(cfg *config.Config) geosource.Source
	newSynth  func(start models.Position) locationagent.Synthesizer
	newSink   func(cfg *config.Config, token string) locationagent.Sink
}

func defaultAgentFactories() agentFactories {
	return agentFactories{
		newDevice: func(cfg *config.Config) geosource.Source {
			return devicehttp.New(cfg.Agent.DeviceBaseURL, cfg.Agent.HighAccuracy)
		},
		newSynth: func(start models.Position) locationagent.Synthesizer {
			return synthetic.New(start.Lat, start.Lng, nil)
		},
		newSink: func(cfg *config.Config, token string) locationagent.Sink {
			return trackapi.New(cfg.Agent.APIBaseURL, token)
		},
	}
}

type courierAgentOpts struct {
	orderID string
	token   string
	// overrides agent.source_mode when set
	sourceMode string
	statusAddr string

	onListen  func(addr string)
	onStarted func(a *locationagent.Agent)
}

// RunCourierAgent tracks one order until ctx is cancelled or the server
// refuses further updates for it.
func RunCourierAgent(ctx context.Context, cfg *config.Config, opts courierAgentOpts, f agentFactories) (*models.SessionStats, error) {
	modeName := cfg.Agent.SourceMode
	if opts.sourceMode != "" {
		modeName = opts.sourceMode
	}
	mode, err := geosource.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	start := models.Position{Lat: synthetic.DefaultLat, Lng: synthetic.DefaultLng}
	if cfg.Agent.DefaultLat != nil && cfg.Agent.DefaultLng != nil {
		start = models.Position{Lat: *cfg.Agent.DefaultLat, Lng: *cfg.Agent.DefaultLng}
	}

	var device geosource.Source
	if mode != geosource.ModeSynthetic {
		device = f.newDevice(cfg)
	}
	src := geosource.Detector{Mode: mode, Device: device}.Detect(ctx)

	ended := make(chan *locationagent.Session, 1)
	agent := locationagent.New(locationagent.Config{
		Interval:     millis(cfg.Agent.IntervalMillis),
		FetchTimeout: millis(cfg.Agent.FetchTimeoutMillis),
		HistoryCap:   cfg.Agent.HistoryCap,
		Default:      start,
		OnSessionEnded: func(s *locationagent.Session) {
			select {
			case ended <- s:
			default:
			}
		},
	}, src, f.newSynth(start), f.newSink(cfg, opts.token))

	unsubscribe := agent.Subscribe(func(st locationagent.State) {
		slog.Info("courier-agent: state changed", "state", string(st), "order_id", opts.orderID)
	})
	defer unsubscribe()

	httpCtx, stopHTTP := context.WithCancel(ctx)
	defer stopHTTP()
	statusAddr := opts.statusAddr
	if statusAddr == "" {
		statusAddr = cfg.Agent.StatusHTTPAddr
	}
	if statusAddr != "" {
		go func() {
			err := runAgentHTTPServer(httpCtx, agentHTTPOpts{
				httpAddr: statusAddr,
				onListen: opts.onListen,
				agent:    agent,
				cfg:      cfg,
			})
			if err != nil {
				slog.Error("courier-agent: status server stopped", "err", err)
			}
		}()
	}

	s, err := agent.Start(ctx, opts.orderID)
	if err != nil {
		return nil, err
	}
	if opts.onStarted != nil {
		opts.onStarted(agent)
	}

	select {
	case <-ctx.Done():
		agent.Stop()
	case <-ended:
	}

	stats, ok := s.Stats()
	if !ok {
		return nil, nil
	}
	slog.Info("courier-agent: session ended",
		"order_id", s.OrderID,
		"distance_km", stats.TotalDistanceKm,
		"avg_speed_kmh", stats.AverageSpeedKmh,
		"samples", stats.SampleCount,
		"elapsed", stats.Elapsed.String(),
	)
	return &stats, nil
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
