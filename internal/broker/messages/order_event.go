package messages

import (
	"encoding/json"
	"time"
)

// OrderEvent is what instances exchange so that a write accepted by one
// track-api reaches subscribers connected to another.
type OrderEvent struct {
	ID     string    `json:"id"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`

	Kind string `json:"kind"`

	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number,omitempty"`
	VendorID    string `json:"vendor_id,omitempty"`
	CourierID   string `json:"courier_id,omitempty"`
	CustomerID  string `json:"customer_id,omitempty"`

	Data   json.RawMessage `json:"data"`
	Public json.RawMessage `json:"public,omitempty"`
}
