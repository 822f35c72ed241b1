package memorders

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type entry struct {
	mu    sync.Mutex
	order *models.Order
}

// Storage keeps orders in process memory. Each order has its own lock, so
// writers to different orders never wait on each other.
type Storage struct {
	mu       sync.RWMutex
	byID     map[string]*entry
	byNumber map[string]string

	rosterMu sync.RWMutex
	roster   map[string]map[string]struct{}

	now func() time.Time
}

func New() *Storage {
	return &Storage{
		byID:     make(map[string]*entry),
		byNumber: make(map[string]string),
		roster:   make(map[string]map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Storage) Close() {}

// AddCourier registers courierID under vendorID.
func (s *Storage) AddCourier(_ context.Context, vendorID, courierID string) error {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()
	set, ok := s.roster[vendorID]
	if !ok {
		set = make(map[string]struct{})
		s.roster[vendorID] = set
	}
	set[courierID] = struct{}{}
	return nil
}

func (s *Storage) IsCourierOfVendor(_ context.Context, vendorID, courierID string) (bool, error) {
	s.rosterMu.RLock()
	defer s.rosterMu.RUnlock()
	_, ok := s.roster[vendorID][courierID]
	return ok, nil
}

func (s *Storage) CreateOrder(_ context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if in.OrderNumber == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "order number is required")
	}
	now := s.now()
	o := &models.Order{
		ID:               uuid.NewString(),
		OrderNumber:      in.OrderNumber,
		VendorID:         in.VendorID,
		CustomerID:       in.CustomerID,
		Status:           models.OrderStatusPending,
		Items:            append([]models.OrderItem(nil), in.Items...),
		TotalAmount:      in.TotalAmount,
		Notes:            in.Notes,
		PickupLocation:   in.PickupLocation,
		DeliveryLocation: in.DeliveryLocation,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byNumber[o.OrderNumber]; taken {
		return nil, errors.Wrapf(models.ErrAlreadyExists, "order number %s", o.OrderNumber)
	}
	s.byID[o.ID] = &entry{order: o}
	s.byNumber[o.OrderNumber] = o.ID
	return o.Clone(), nil
}

func (s *Storage) get(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

func (s *Storage) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	e, ok := s.get(id)
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

func (s *Storage) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	s.mu.RLock()
	id, ok := s.byNumber[orderNumber]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", orderNumber)
	}
	return s.GetOrderByID(ctx, id)
}

func (s *Storage) CompareAndSetStatus(_ context.Context, ch models.StatusChange) (*models.Order, error) {
	e, ok := s.get(ch.OrderID)
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", ch.OrderID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.order.Status != ch.ExpectedStatus || e.order.Version != ch.ExpectedVersion {
		return nil, models.ErrStaleState
	}
	e.order.ApplyStatus(ch)
	return e.order.Clone(), nil
}

func (s *Storage) AppendLocation(_ context.Context, upd models.LocationAppend) (*models.Order, error) {
	e, ok := s.get(upd.OrderID)
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", upd.OrderID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.order.HasCourier(upd.CourierID) || !e.order.Status.Trackable() {
		return nil, models.ErrStaleState
	}
	e.order.AppendLocation(upd.Location)
	return e.order.Clone(), nil
}

func (s *Storage) SetTrackingToken(_ context.Context, orderNumber, token string) error {
	s.mu.RLock()
	id, ok := s.byNumber[orderNumber]
	s.mu.RUnlock()
	if !ok {
		return errors.Wrapf(models.ErrNotFound, "order %s", orderNumber)
	}
	e, _ := s.get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	t := token
	e.order.TrackingToken = &t
	e.order.Version++
	e.order.UpdatedAt = s.now()
	return nil
}
