package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/LiveTrack/internal/broker/messages"
	"github.com/google/uuid"
)

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev messages.OrderEvent) error
}

// Relay delivers events to the local hub and forwards them to other
// instances through the broker. Incoming broker events from other
// instances go through Apply.
type Relay struct {
	hub    *Hub
	pub    EventPublisher
	origin string
}

// NewRelay accepts a nil publisher for single-instance deployments.
func NewRelay(hub *Hub, pub EventPublisher, origin string) *Relay {
	if origin == "" {
		origin = uuid.NewString()
	}
	return &Relay{hub: hub, pub: pub, origin: origin}
}

func (r *Relay) Origin() string { return r.origin }

// Notify never fails because of the broker: the write it reports is
// already persisted, and remote subscribers can re-read state on reconnect.
func (r *Relay) Notify(ctx context.Context, kind Kind, target Target, payload any) error {
	env, err := NewEnvelope(kind, target, payload)
	if err != nil {
		return err
	}
	r.hub.Deliver(env)

	if r.pub == nil {
		return nil
	}
	if err := r.pub.PublishOrderEvent(ctx, r.toMessage(env)); err != nil {
		slog.Warn("relay: publish to broker failed", "kind", string(kind), "order_id", target.OrderID, "err", err)
	}
	return nil
}

// Apply dispatches an event received from the broker. Events this instance
// produced itself were already delivered locally and are skipped.
func (r *Relay) Apply(_ context.Context, ev messages.OrderEvent) error {
	if ev.Origin == r.origin {
		return nil
	}
	env := Envelope{
		Kind: Kind(ev.Kind),
		Target: Target{
			OrderID:     ev.OrderID,
			OrderNumber: ev.OrderNumber,
			VendorID:    ev.VendorID,
			CourierID:   ev.CourierID,
			CustomerID:  ev.CustomerID,
		},
		Data:   ev.Data,
		Public: ev.Public,
	}
	if !env.Kind.Routed() {
		slog.Warn("relay: unknown event kind", "kind", ev.Kind, "id", ev.ID)
		return nil
	}
	r.hub.Deliver(env)
	return nil
}

// HandleMessage is the broker consumer callback. Malformed messages are
// logged and acknowledged so they do not block the stream.
func (r *Relay) HandleMessage(ctx context.Context, _, value []byte) error {
	var ev messages.OrderEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		slog.Warn("relay: bad message", "err", err)
		return nil
	}
	return r.Apply(ctx, ev)
}

func (r *Relay) toMessage(env Envelope) messages.OrderEvent {
	return messages.OrderEvent{
		ID:          uuid.NewString(),
		Origin:      r.origin,
		At:          time.Now().UTC(),
		Kind:        string(env.Kind),
		OrderID:     env.Target.OrderID,
		OrderNumber: env.Target.OrderNumber,
		VendorID:    env.Target.VendorID,
		CourierID:   env.Target.CourierID,
		CustomerID:  env.Target.CustomerID,
		Data:        env.Data,
		Public:      env.Public,
	}
}
