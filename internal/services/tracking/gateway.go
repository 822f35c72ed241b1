package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/LiveTrack/internal/cache"
	"github.com/BearBump/LiveTrack/internal/geo"
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/BearBump/LiveTrack/internal/realtime"
	"github.com/BearBump/LiveTrack/internal/services/eta"
)

type Verifier interface {
	Verify(ctx context.Context, orderNumber, token string) (*models.Order, error)
}

type Options struct {
	// RateLimit is the number of token checks one client may make per
	// RateWindow. 0 disables throttling.
	RateLimit  int64
	RateWindow time.Duration // default: 1 minute
	SpeedKmh   float64       // default: eta.DefaultSpeedKmh
	Now        func() time.Time
}

// Gateway is the only entry point for anonymous customers. It never tells
// apart a wrong token from a missing order.
type Gateway struct {
	verifier Verifier
	hub      *realtime.Hub
	limiter  cache.RateLimiter
	opts     Options
}

func NewGateway(verifier Verifier, hub *realtime.Hub, limiter cache.RateLimiter, opts Options) *Gateway {
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.SpeedKmh <= 0 {
		opts.SpeedKmh = eta.DefaultSpeedKmh
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Gateway{verifier: verifier, hub: hub, limiter: limiter, opts: opts}
}

// Track resolves the read-only tracking view for a link. clientKey
// identifies the caller for throttling (usually the remote IP).
func (g *Gateway) Track(ctx context.Context, orderNumber, token, clientKey string) (*models.TrackingView, error) {
	o, err := g.verify(ctx, orderNumber, token, clientKey)
	if err != nil {
		return nil, err
	}
	v := View(o, g.opts.SpeedKmh, g.opts.Now())
	return &v, nil
}

// JoinPublic subscribes an anonymous connection to the order's public room
// and sends it the current snapshot.
func (g *Gateway) JoinPublic(ctx context.Context, c *realtime.Client, orderNumber, token, clientKey string) (*realtime.Snapshot, error) {
	o, err := g.verify(ctx, orderNumber, token, clientKey)
	if err != nil {
		return nil, err
	}
	number := o.OrderNumber
	if err := g.hub.JoinPublic(c, number); err != nil {
		return nil, err
	}
	// snapshot is read after joining: any later write arrives as an event
	if o, err = g.verifier.Verify(ctx, number, token); err != nil {
		g.hub.Leave(c, realtime.OrderRoom(number))
		return nil, err
	}
	snap := &realtime.Snapshot{
		OrderNumber:     o.OrderNumber,
		Status:          o.Status,
		CurrentLocation: o.CurrentLocation,
	}
	if err := g.hub.Send(c, realtime.KindSnapshot, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (g *Gateway) verify(ctx context.Context, orderNumber, token, clientKey string) (*models.Order, error) {
	if g.limiter != nil && g.opts.RateLimit > 0 && clientKey != "" {
		ok, _, err := g.limiter.Allow(ctx, "tracking:rl:"+clientKey, g.opts.RateLimit, g.opts.RateWindow)
		switch {
		case err != nil:
			slog.Warn("tracking: rate limiter unavailable", "err", err)
		case !ok:
			return nil, models.ErrRateLimited
		}
	}

	o, err := g.verifier.Verify(ctx, orderNumber, token)
	if err != nil {
		slog.Warn("tracking: rejected", "order_number", orderNumber, "client", clientKey, "err", err)
		return nil, err
	}
	return o, nil
}

// View builds the customer-facing projection of an order. The ETA is
// present only while a courier position exists and the order is still
// moving.
func View(o *models.Order, speedKmh float64, now time.Time) models.TrackingView {
	v := models.TrackingView{
		OrderNumber:             o.OrderNumber,
		Status:                  o.Status,
		CurrentLocation:         o.CurrentLocation,
		PickupLocation:          o.PickupLocation,
		DeliveryLocation:        o.DeliveryLocation,
		DeliveryPartnerAssigned: o.CourierID != nil,
		EstimatedDeliveryTime:   o.EstimatedDeliveryTime,
		ActualDeliveryTime:      o.DeliveredAt,
		UpdatedAt:               o.UpdatedAt,
	}
	if o.CurrentLocation != nil && !o.Status.Terminal() {
		e := eta.Compute(
			geo.Point{Lat: o.CurrentLocation.Latitude, Lng: o.CurrentLocation.Longitude},
			geo.Point{Lat: o.DeliveryLocation.Latitude, Lng: o.DeliveryLocation.Longitude},
			speedKmh, now,
		)
		v.ETA = &models.ETAView{
			DistanceKm:  e.DistanceKm,
			Minutes:     e.Minutes,
			Text:        e.Text,
			ArrivalTime: e.ArrivalTime,
		}
		if v.EstimatedDeliveryTime == nil {
			at := e.ArrivalAt
			v.EstimatedDeliveryTime = &at
		}
	}
	return v
}
