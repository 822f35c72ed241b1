package mocks

import (
	"context"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/BearBump/LiveTrack/internal/realtime"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	args := m.Called(ctx, in)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *MockRepository) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *MockRepository) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	args := m.Called(ctx, orderNumber)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *MockRepository) CompareAndSetStatus(ctx context.Context, ch models.StatusChange) (*models.Order, error) {
	args := m.Called(ctx, ch)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *MockRepository) AppendLocation(ctx context.Context, upd models.LocationAppend) (*models.Order, error) {
	args := m.Called(ctx, upd)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *MockRepository) IsCourierOfVendor(ctx context.Context, vendorID, courierID string) (bool, error) {
	args := m.Called(ctx, vendorID, courierID)
	return args.Bool(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, kind realtime.Kind, target realtime.Target, payload any) error {
	args := m.Called(ctx, kind, target, payload)
	return args.Error(0)
}

type MockTokenIssuer struct {
	mock.Mock
}

func (m *MockTokenIssuer) Issue(ctx context.Context, orderNumber string) (string, error) {
	args := m.Called(ctx, orderNumber)
	return args.String(0), args.Error(1)
}
