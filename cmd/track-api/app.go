package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/LiveTrack/internal/api/orders_api"
	"github.com/BearBump/LiveTrack/internal/api/socket_api"
	"github.com/BearBump/LiveTrack/internal/auth"
	"github.com/BearBump/LiveTrack/internal/realtime"
	"github.com/BearBump/LiveTrack/internal/services/orders"
	"github.com/BearBump/LiveTrack/internal/services/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	broker        string
	consumerGroup string

	onListen func(httpAddr string)
}

type eventConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type readinessCheck func(ctx context.Context) error

type trackAPIDeps struct {
	orders   *orders.Service
	gateway  *tracking.Gateway
	hub      *realtime.Hub
	relay    *realtime.Relay
	verifier *auth.Verifier

	// nil when events stay inside this instance
	consumer eventConsumer
	checks   map[string]readinessCheck
}

func runTrackAPI(ctx context.Context, opts trackAPIOpts, deps trackAPIDeps) error {
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, newRouter(opts, deps))
	}()

	if deps.consumer != nil {
		go func() {
			slog.Info("order events consumer started", "broker", opts.broker, "group", opts.consumerGroup, "origin", deps.relay.Origin())
			err := deps.consumer.Consume(ctx, func(key, value []byte) error {
				return deps.relay.HandleMessage(ctx, key, value)
			})
			if err != nil && ctx.Err() == nil {
				slog.Error("order events consumer stopped", "err", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		<-httpErr
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func newRouter(opts trackAPIOpts, deps trackAPIDeps) chi.Router {
	r := chi.NewRouter()
	// RemoteAddr is left as is: forwarded headers are client-controlled and
	// would let a caller pick its own rate-limit key.
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"realtime":  deps.hub.Stats(),
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for name, check := range deps.checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, opts.swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger.json"),
		))
	}

	orders_api.New(deps.orders, deps.gateway, deps.verifier).Routes(r)
	socket_api.New(deps.hub, deps.orders, deps.gateway, deps.verifier).Routes(r)
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
