package realtime

import (
	"strings"

	"github.com/BearBump/LiveTrack/internal/models"
)

func OrderRoom(idOrNumber string) string { return "order:" + idOrNumber }
func VendorRoom(id string) string        { return "vendor:" + id }
func DeliveryRoom(id string) string      { return "delivery:" + id }
func CustomerRoom(id string) string      { return "customer:" + id }

// RoleRoom is the personal room a connection is placed in on register.
func RoleRoom(id models.Identity) string {
	switch id.Role {
	case models.RoleVendor:
		return VendorRoom(id.UserID)
	case models.RoleDelivery:
		return DeliveryRoom(id.UserID)
	case models.RoleCustomer:
		return CustomerRoom(id.UserID)
	}
	return ""
}

func isOrderRoom(room string) bool {
	return strings.HasPrefix(room, "order:") && len(room) > len("order:")
}

// Target names every party an order event may concern.
type Target struct {
	OrderID     string
	OrderNumber string
	VendorID    string
	CourierID   string
	CustomerID  string
}

func TargetOf(o *models.Order) Target {
	return Target{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		VendorID:    o.VendorID,
		CourierID:   o.CourierIDOrEmpty(),
		CustomerID:  o.CustomerID,
	}
}

type roomFunc func(Target) string

func byOrderID(t Target) string {
	if t.OrderID == "" {
		return ""
	}
	return OrderRoom(t.OrderID)
}

func byOrderNumber(t Target) string {
	if t.OrderNumber == "" {
		return ""
	}
	return OrderRoom(t.OrderNumber)
}

func byVendor(t Target) string {
	if t.VendorID == "" {
		return ""
	}
	return VendorRoom(t.VendorID)
}

func byCourier(t Target) string {
	if t.CourierID == "" {
		return ""
	}
	return DeliveryRoom(t.CourierID)
}

type route struct {
	// rooms of the authenticated domain that receive the full payload.
	rooms []roomFunc
	// rooms of the public domain that receive the redacted payload.
	public []roomFunc
}

// routes is the whole fan-out policy. Adding an event kind means adding a
// line here, nothing else.
var routes = map[Kind]route{
	KindLocationUpdated: {
		rooms:  []roomFunc{byOrderID, byOrderNumber, byVendor},
		public: []roomFunc{byOrderNumber},
	},
	KindStatusUpdated: {
		rooms:  []roomFunc{byOrderID, byOrderNumber, byVendor, byCourier},
		public: []roomFunc{byOrderNumber},
	},
	KindOrderAssigned: {
		rooms: []roomFunc{byCourier},
	},
	KindOrderCreated: {
		rooms: []roomFunc{byVendor},
	},
}

// RoomsFor lists the authenticated and public rooms an event of kind k for
// target t is delivered to.
func RoomsFor(k Kind, t Target) (rooms, public []string) {
	r, ok := routes[k]
	if !ok {
		return nil, nil
	}
	return resolve(r.rooms, t), resolve(r.public, t)
}

func resolve(fns []roomFunc, t Target) []string {
	out := make([]string, 0, len(fns))
	seen := make(map[string]struct{}, len(fns))
	for _, fn := range fns {
		room := fn(t)
		if room == "" {
			continue
		}
		if _, dup := seen[room]; dup {
			continue
		}
		seen[room] = struct{}{}
		out = append(out, room)
	}
	return out
}
