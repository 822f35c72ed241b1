package orders_api

import (
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
)

// OrderDTO is the authenticated view of an order. The tracking token is
// only ever handed out through the tracking-link endpoint.
type OrderDTO struct {
	ID                    string             `json:"id"`
	OrderNumber           string             `json:"orderNumber"`
	VendorID              string             `json:"vendorId"`
	CustomerID            string             `json:"customerId"`
	DeliveryPartnerID     *string            `json:"deliveryPartnerId,omitempty"`
	Status                models.OrderStatus `json:"status"`
	Items                 []models.OrderItem `json:"items"`
	TotalAmount           float64            `json:"totalAmount"`
	Notes                 string             `json:"notes,omitempty"`
	PickupLocation        models.Location    `json:"pickupLocation"`
	DeliveryLocation      models.Location    `json:"deliveryLocation"`
	CurrentLocation       *models.Location   `json:"currentLocation,omitempty"`
	EstimatedDeliveryTime *time.Time         `json:"estimatedDeliveryTime,omitempty"`
	ActualDeliveryTime    *time.Time         `json:"actualDeliveryTime,omitempty"`
	AssignedAt            *time.Time         `json:"assignedAt,omitempty"`
	PickedAt              *time.Time         `json:"pickedAt,omitempty"`
	InTransitAt           *time.Time         `json:"inTransitAt,omitempty"`
	CancelledAt           *time.Time         `json:"cancelledAt,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

func toOrderDTO(o *models.Order) OrderDTO {
	items := o.Items
	if items == nil {
		items = []models.OrderItem{}
	}
	return OrderDTO{
		ID:                    o.ID,
		OrderNumber:           o.OrderNumber,
		VendorID:              o.VendorID,
		CustomerID:            o.CustomerID,
		DeliveryPartnerID:     o.CourierID,
		Status:                o.Status,
		Items:                 items,
		TotalAmount:           o.TotalAmount,
		Notes:                 o.Notes,
		PickupLocation:        o.PickupLocation,
		DeliveryLocation:      o.DeliveryLocation,
		CurrentLocation:       o.CurrentLocation,
		EstimatedDeliveryTime: o.EstimatedDeliveryTime,
		ActualDeliveryTime:    o.DeliveredAt,
		AssignedAt:            o.AssignedAt,
		PickedAt:              o.PickedAt,
		InTransitAt:           o.InTransitAt,
		CancelledAt:           o.CancelledAt,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
}
