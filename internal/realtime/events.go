package realtime

import (
	"encoding/json"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/pkg/errors"
)

type Kind string

const (
	KindLocationUpdated Kind = "location:updated"
	KindStatusUpdated   Kind = "order:statusUpdated"
	KindOrderAssigned   Kind = "order:assigned"
	KindOrderCreated    Kind = "order:created"

	// Sent directly to a single connection, never routed.
	KindSnapshot Kind = "order:snapshot"
	KindError    Kind = "error"
)

func (k Kind) Routed() bool {
	_, ok := routes[k]
	return ok
}

// publicPayload is implemented by payloads that may be shown to anonymous
// tracking clients. The returned value must not carry user identifiers.
type publicPayload interface {
	Public() any
}

type LocationUpdated struct {
	OrderID           string          `json:"orderId"`
	OrderNumber       string          `json:"orderNumber"`
	Location          models.Location `json:"location"`
	DeliveryPartnerID string          `json:"deliveryPartnerId"`
}

func (e LocationUpdated) Public() any {
	return PublicLocation{OrderNumber: e.OrderNumber, Location: e.Location}
}

type StatusUpdated struct {
	OrderID       string             `json:"orderId"`
	OrderNumber   string             `json:"orderNumber"`
	Status        models.OrderStatus `json:"status"`
	UpdatedBy     string             `json:"updatedBy"`
	UpdatedByRole models.Role        `json:"updatedByRole"`
	At            time.Time          `json:"at"`
}

func (e StatusUpdated) Public() any {
	return PublicStatus{OrderNumber: e.OrderNumber, Status: e.Status, At: e.At}
}

type OrderAssigned struct {
	OrderID           string `json:"orderId"`
	OrderNumber       string `json:"orderNumber"`
	VendorID          string `json:"vendorId"`
	DeliveryPartnerID string `json:"deliveryPartnerId"`
}

type OrderCreated struct {
	OrderID     string             `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	CustomerID  string             `json:"customerId"`
	Status      models.OrderStatus `json:"status"`
}

type PublicLocation struct {
	OrderNumber string          `json:"orderNumber"`
	Location    models.Location `json:"location"`
}

type PublicStatus struct {
	OrderNumber string             `json:"orderNumber"`
	Status      models.OrderStatus `json:"status"`
	At          time.Time          `json:"at"`
}

// Snapshot is what a subscriber gets right after joining an order room.
type Snapshot struct {
	OrderNumber     string             `json:"orderNumber"`
	Status          models.OrderStatus `json:"status"`
	CurrentLocation *models.Location   `json:"currentLocation,omitempty"`
}

// ErrorEvent answers a rejected socket request. Event names the request
// that failed.
type ErrorEvent struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// Envelope is a routed event with its payloads already encoded, so it can
// cross process boundaries and be delivered without knowing the Go type.
type Envelope struct {
	Kind   Kind
	Target Target
	Data   json.RawMessage
	Public json.RawMessage
}

func NewEnvelope(kind Kind, target Target, payload any) (Envelope, error) {
	if !kind.Routed() {
		return Envelope{}, errors.Errorf("unroutable event kind %q", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "marshal event payload")
	}
	env := Envelope{Kind: kind, Target: target, Data: data}
	if p, ok := payload.(publicPayload); ok {
		pub, err := json.Marshal(p.Public())
		if err != nil {
			return Envelope{}, errors.Wrap(err, "marshal public payload")
		}
		env.Public = pub
	}
	return env, nil
}

type frame struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeFrame(kind Kind, data json.RawMessage) []byte {
	b, _ := json.Marshal(frame{Event: kind, Data: data})
	return b
}

// Frame encodes a single outbound message for direct sends.
func Frame(kind Kind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal frame")
	}
	return encodeFrame(kind, data), nil
}
