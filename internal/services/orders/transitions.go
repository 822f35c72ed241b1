package orders

import (
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/pkg/errors"
)

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:   {models.OrderStatusAssigned, models.OrderStatusCancelled},
	models.OrderStatusAccepted:  {models.OrderStatusCancelled},
	models.OrderStatusAssigned:  {models.OrderStatusPicked, models.OrderStatusCancelled},
	models.OrderStatusPicked:    {models.OrderStatusInTransit, models.OrderStatusCancelled},
	models.OrderStatusInTransit: {models.OrderStatusDelivered, models.OrderStatusCancelled},
}

// CanTransition reports whether the table allows from -> to. Terminal
// states have no outgoing edges.
func CanTransition(from, to models.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions is the list of statuses reachable in one step.
func AllowedTransitions(from models.OrderStatus) []models.OrderStatus {
	out := make([]models.OrderStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// roleMayRequest is the coarse check done before the order is looked at:
// which roles may ever ask for a given target status.
func roleMayRequest(r models.Role, to models.OrderStatus) bool {
	switch to {
	case models.OrderStatusAssigned:
		return r == models.RoleVendor
	case models.OrderStatusPicked, models.OrderStatusInTransit, models.OrderStatusDelivered:
		return r == models.RoleDelivery
	case models.OrderStatusCancelled:
		return r == models.RoleVendor || r == models.RoleSystem
	}
	return false
}

// ownsTransition checks the actor against this particular order.
func ownsTransition(o *models.Order, actor models.Identity, to models.OrderStatus) bool {
	switch to {
	case models.OrderStatusAssigned:
		return actor.Role == models.RoleVendor && o.VendorID == actor.UserID
	case models.OrderStatusPicked, models.OrderStatusInTransit, models.OrderStatusDelivered:
		return actor.Role == models.RoleDelivery && o.HasCourier(actor.UserID)
	case models.OrderStatusCancelled:
		if actor.Role == models.RoleSystem {
			return true
		}
		return actor.Role == models.RoleVendor && o.VendorID == actor.UserID
	}
	return false
}

// checkTransition evaluates a request against the current order state.
// Role is checked first, then the table, then ownership, so a courier asking
// for an impossible edge learns it is impossible rather than forbidden.
func checkTransition(o *models.Order, actor models.Identity, to models.OrderStatus) error {
	if !roleMayRequest(actor.Role, to) {
		return errors.Wrapf(models.ErrNotAuthorized, "role %s cannot set status %s", actor.Role, to)
	}
	if !CanTransition(o.Status, to) {
		return errors.Wrapf(models.ErrInvalidTransition, "%s -> %s", o.Status, to)
	}
	if !ownsTransition(o, actor, to) {
		return errors.Wrap(models.ErrNotAuthorized, "not a party to this order")
	}
	return nil
}

// CanView is the read rule used for authenticated reads and room joins.
func CanView(o *models.Order, actor models.Identity) bool {
	switch actor.Role {
	case models.RoleSystem:
		return true
	case models.RoleVendor:
		return o.VendorID == actor.UserID
	case models.RoleDelivery:
		return o.HasCourier(actor.UserID)
	case models.RoleCustomer:
		return o.CustomerID == actor.UserID
	}
	return false
}
