package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/LiveTrack/config"
	"github.com/BearBump/LiveTrack/internal/services/locationagent"
	"github.com/go-chi/chi/v5"
)

type agentHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	agent *locationagent.Agent
	cfg   *config.Config
}

func runAgentHTTPServer(ctx context.Context, opts agentHTTPOpts) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.agent.State() == locationagent.StateIdle {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"idle"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(opts.agent.Snapshot())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// без токенов и секретов
		out := map[string]any{
			"apiBaseUrl":     opts.cfg.Agent.APIBaseURL,
			"deviceBaseUrl":  opts.cfg.Agent.DeviceBaseURL,
			"sourceMode":     opts.cfg.Agent.SourceMode,
			"highAccuracy":   opts.cfg.Agent.HighAccuracy,
			"intervalMs":     opts.cfg.Agent.IntervalMillis,
			"fetchTimeoutMs": opts.cfg.Agent.FetchTimeoutMillis,
			"historyCap":     opts.cfg.Agent.HistoryCap,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		opts.agent.Stop()
		_, _ = w.Write([]byte(`{"stopped":true}`))
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	err = srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
