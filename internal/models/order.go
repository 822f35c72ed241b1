package models

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusAssigned  OrderStatus = "assigned"
	OrderStatusPicked    OrderStatus = "picked"
	OrderStatusInTransit OrderStatus = "in_transit"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAccepted, OrderStatusAssigned, OrderStatusPicked,
		OrderStatusInTransit, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Courier owns location writes only while the order is in one of these states.
func (s OrderStatus) Trackable() bool {
	return s == OrderStatusAssigned || s == OrderStatusPicked || s == OrderStatusInTransit
}

type Role string

const (
	RoleVendor   Role = "vendor"
	RoleDelivery Role = "delivery"
	RoleCustomer Role = "customer"
	// RoleSystem is used by internal callers (timeouts, admin tooling); never issued in tokens.
	RoleSystem Role = "system"
)

type Identity struct {
	UserID string
	Role   Role
}

type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Address   string    `json:"address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

type Order struct {
	ID          string
	OrderNumber string

	VendorID   string
	CustomerID string
	CourierID  *string

	Status OrderStatus

	Items       []OrderItem
	TotalAmount float64
	Notes       string

	PickupLocation   Location
	DeliveryLocation Location
	CurrentLocation  *Location
	LocationHistory  []Location

	TrackingToken *string

	EstimatedDeliveryTime *time.Time
	AssignedAt            *time.Time
	PickedAt              *time.Time
	InTransitAt           *time.Time
	DeliveredAt           *time.Time
	CancelledAt           *time.Time

	// Version is bumped on every write and backs optimistic concurrency.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Order) HasCourier(courierID string) bool {
	return o.CourierID != nil && *o.CourierID == courierID
}

func (o *Order) CourierIDOrEmpty() string {
	if o.CourierID == nil {
		return ""
	}
	return *o.CourierID
}

type OrderCreateInput struct {
	OrderNumber      string
	VendorID         string
	CustomerID       string
	Items            []OrderItem
	TotalAmount      float64
	Notes            string
	PickupLocation   Location
	DeliveryLocation Location
}

// StatusChange is a compare-and-set request against the stored order.
// It is applied only if the stored status still equals ExpectedStatus and
// the stored version equals ExpectedVersion.
type StatusChange struct {
	OrderID         string
	ExpectedStatus  OrderStatus
	ExpectedVersion int64

	Status    OrderStatus
	CourierID *string
	At        time.Time
}

// LocationAppend is applied only while CourierID is still the assigned
// courier and the order is trackable.
type LocationAppend struct {
	OrderID   string
	CourierID string
	Location  Location
}

type TrackingView struct {
	OrderNumber             string      `json:"orderNumber"`
	Status                  OrderStatus `json:"status"`
	CurrentLocation         *Location   `json:"currentLocation,omitempty"`
	PickupLocation          Location    `json:"pickupLocation"`
	DeliveryLocation        Location    `json:"deliveryLocation"`
	DeliveryPartnerAssigned bool        `json:"deliveryPartnerAssigned"`
	EstimatedDeliveryTime   *time.Time  `json:"estimatedDeliveryTime,omitempty"`
	ActualDeliveryTime      *time.Time  `json:"actualDeliveryTime,omitempty"`
	ETA                     *ETAView    `json:"eta,omitempty"`
	UpdatedAt               time.Time   `json:"updatedAt"`
}

type ETAView struct {
	DistanceKm  float64 `json:"distanceKm"`
	Minutes     float64 `json:"minutes"`
	Text        string  `json:"text"`
	ArrivalTime string  `json:"arrivalTime"`
}

// ApplyStatus sets the new status and stamps the matching timestamp. It does
// not check the transition; callers do that.
func (o *Order) ApplyStatus(ch StatusChange) {
	at := ch.At
	o.Status = ch.Status
	if ch.CourierID != nil {
		c := *ch.CourierID
		o.CourierID = &c
	}
	switch ch.Status {
	case OrderStatusAssigned:
		o.AssignedAt = &at
	case OrderStatusPicked:
		o.PickedAt = &at
	case OrderStatusInTransit:
		o.InTransitAt = &at
	case OrderStatusDelivered:
		o.DeliveredAt = &at
	case OrderStatusCancelled:
		o.CancelledAt = &at
	}
	o.Version++
	o.UpdatedAt = at
}

// AppendLocation records loc as the newest history entry and the current
// location.
func (o *Order) AppendLocation(loc Location) {
	o.LocationHistory = append(o.LocationHistory, loc)
	cur := loc
	o.CurrentLocation = &cur
	o.Version++
	o.UpdatedAt = loc.Timestamp
}

// Clone returns a deep copy so stores can hand out orders without sharing
// pointers with their own state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.CourierID = cloneStr(o.CourierID)
	cp.TrackingToken = cloneStr(o.TrackingToken)
	cp.Items = append([]OrderItem(nil), o.Items...)
	cp.LocationHistory = append([]Location(nil), o.LocationHistory...)
	if o.CurrentLocation != nil {
		l := *o.CurrentLocation
		cp.CurrentLocation = &l
	}
	cp.EstimatedDeliveryTime = cloneTime(o.EstimatedDeliveryTime)
	cp.AssignedAt = cloneTime(o.AssignedAt)
	cp.PickedAt = cloneTime(o.PickedAt)
	cp.InTransitAt = cloneTime(o.InTransitAt)
	cp.DeliveredAt = cloneTime(o.DeliveredAt)
	cp.CancelledAt = cloneTime(o.CancelledAt)
	return &cp
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}
