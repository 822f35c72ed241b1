package memorders

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func create(t *testing.T, s *Storage, number string) *models.Order {
	t.Helper()
	o, err := s.CreateOrder(context.Background(), models.OrderCreateInput{
		OrderNumber: number, VendorID: "v1", CustomerID: "u1",
	})
	require.NoError(t, err)
	return o
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := create(t, s, "ORD-1")
	require.Equal(t, models.OrderStatusPending, o.Status)
	require.EqualValues(t, 1, o.Version)

	byID, err := s.GetOrderByID(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, "ORD-1", byID.OrderNumber)

	byNum, err := s.GetOrderByNumber(ctx, "ORD-1")
	require.NoError(t, err)
	require.Equal(t, o.ID, byNum.ID)

	_, err = s.GetOrderByID(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = s.GetOrderByNumber(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.CreateOrder(ctx, models.OrderCreateInput{OrderNumber: "ORD-1"})
	require.ErrorIs(t, err, models.ErrAlreadyExists)
}

func TestReturnedOrdersAreCopies(t *testing.T) {
	s := New()
	o := create(t, s, "ORD-1")
	o.Status = models.OrderStatusDelivered

	again, err := s.GetOrderByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPending, again.Status)
}

func TestCompareAndSetStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := create(t, s, "ORD-1")
	c := "c1"
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	got, err := s.CompareAndSetStatus(ctx, models.StatusChange{
		OrderID: o.ID, ExpectedStatus: models.OrderStatusPending, ExpectedVersion: 1,
		Status: models.OrderStatusAssigned, CourierID: &c, At: at,
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusAssigned, got.Status)
	require.Equal(t, "c1", got.CourierIDOrEmpty())
	require.Equal(t, at, *got.AssignedAt)
	require.EqualValues(t, 2, got.Version)

	// same expectation again loses
	_, err = s.CompareAndSetStatus(ctx, models.StatusChange{
		OrderID: o.ID, ExpectedStatus: models.OrderStatusPending, ExpectedVersion: 1,
		Status: models.OrderStatusAssigned, CourierID: &c, At: at,
	})
	require.ErrorIs(t, err, models.ErrStaleState)

	_, err = s.CompareAndSetStatus(ctx, models.StatusChange{OrderID: "nope"})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompareAndSetStatus_ConcurrentOnlyOneWins(t *testing.T) {
	s := New()
	o := create(t, s, "ORD-1")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := string(rune('a' + i))
			_, err := s.CompareAndSetStatus(context.Background(), models.StatusChange{
				OrderID: o.ID, ExpectedStatus: models.OrderStatusPending, ExpectedVersion: 1,
				Status: models.OrderStatusAssigned, CourierID: &c, At: time.Now(),
			})
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
}

func TestAppendLocation(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := create(t, s, "ORD-1")
	loc := models.Location{Latitude: 1, Longitude: 2, Timestamp: time.Now()}

	_, err := s.AppendLocation(ctx, models.LocationAppend{OrderID: o.ID, CourierID: "c1", Location: loc})
	require.ErrorIs(t, err, models.ErrStaleState, "pending orders are not trackable")

	c := "c1"
	_, err = s.CompareAndSetStatus(ctx, models.StatusChange{
		OrderID: o.ID, ExpectedStatus: models.OrderStatusPending, ExpectedVersion: 1,
		Status: models.OrderStatusAssigned, CourierID: &c, At: time.Now(),
	})
	require.NoError(t, err)

	_, err = s.AppendLocation(ctx, models.LocationAppend{OrderID: o.ID, CourierID: "c2", Location: loc})
	require.ErrorIs(t, err, models.ErrStaleState)

	got, err := s.AppendLocation(ctx, models.LocationAppend{OrderID: o.ID, CourierID: "c1", Location: loc})
	require.NoError(t, err)
	require.Len(t, got.LocationHistory, 1)
	require.Equal(t, got.LocationHistory[0], *got.CurrentLocation)
}

func TestRosterAndToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.AddCourier(ctx, "v1", "c1"))

	ok, err := s.IsCourierOfVendor(ctx, "v1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, _ = s.IsCourierOfVendor(ctx, "v2", "c1")
	require.False(t, ok)

	o := create(t, s, "ORD-1")
	require.NoError(t, s.SetTrackingToken(ctx, o.OrderNumber, "tok"))
	got, _ := s.GetOrderByID(ctx, o.ID)
	require.Equal(t, "tok", *got.TrackingToken)
	require.ErrorIs(t, s.SetTrackingToken(ctx, "nope", "x"), models.ErrNotFound)
}
