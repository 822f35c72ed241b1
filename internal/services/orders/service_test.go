package orders

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/BearBump/LiveTrack/internal/realtime"
	"github.com/BearBump/LiveTrack/internal/services/tokens"
	"github.com/BearBump/LiveTrack/internal/storage/memorders"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type env struct {
	store *memorders.Storage
	hub   *realtime.Hub
	auth  *tokens.Authority
	svc   *Service
	ended *endedSessions
}

type endedSessions struct {
	mu  sync.Mutex
	ids []string
}

func (e *endedSessions) CloseOrder(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memorders.New()
	hub := realtime.NewHub(realtime.Options{Buffer: 256})
	auth, err := tokens.New("0123456789abcdef0123", store, tokens.Options{AllowUntokened: false})
	require.NoError(t, err)
	ended := &endedSessions{}
	svc := New(store, realtime.NewRelay(hub, nil, "test"), auth, Options{
		TrackingBaseURL: "http://localhost:3000",
		Sessions:        ended,
	})
	require.NoError(t, store.AddCourier(context.Background(), "v1", "c1"))
	require.NoError(t, store.AddCourier(context.Background(), "v1", "c2"))
	return &env{store: store, hub: hub, auth: auth, svc: svc, ended: ended}
}

func (e *env) order(t *testing.T) *models.Order {
	t.Helper()
	o, err := e.svc.CreateOrder(context.Background(), vendorID, CreateOrderRequest{
		CustomerID:       "u1",
		PickupLocation:   models.Location{Latitude: 40.71, Longitude: -74.0},
		DeliveryLocation: models.Location{Latitude: 40.75, Longitude: -73.98},
	})
	require.NoError(t, err)
	return o
}

func nextEvent(t *testing.T, c *realtime.Client) (realtime.Kind, json.RawMessage) {
	t.Helper()
	select {
	case b := <-c.Outbound():
		var f struct {
			Event realtime.Kind   `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(b, &f))
		return f.Event, f.Data
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return "", nil
}

func TestScenario_AssignPickObservedAnonymously(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.order(t)
	require.Equal(t, models.OrderStatusPending, o.Status)

	link, err := e.svc.GenerateTrackingLink(ctx, vendorID, o.ID)
	require.NoError(t, err)

	// anonymous customer, no identity at all
	verified, err := e.auth.Verify(ctx, link.OrderNumber, link.TrackingToken)
	require.NoError(t, err)
	watcher := e.hub.RegisterPublic()
	require.NoError(t, e.hub.JoinPublic(watcher, verified.OrderNumber))

	got, err := e.svc.AssignCourier(ctx, vendorID, o.ID, "c1")
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusAssigned, got.Status)
	require.Equal(t, "c1", got.CourierIDOrEmpty())
	require.NotNil(t, got.AssignedAt)

	got, err = e.svc.UpdateStatus(ctx, courierID, o.ID, models.OrderStatusPicked)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPicked, got.Status)
	require.NotNil(t, got.PickedAt)

	var seen []models.OrderStatus
	for range 2 {
		kind, data := nextEvent(t, watcher)
		require.Equal(t, realtime.KindStatusUpdated, kind)
		require.NotContains(t, string(data), "c1")
		var p realtime.PublicStatus
		require.NoError(t, json.Unmarshal(data, &p))
		seen = append(seen, p.Status)
	}
	require.Equal(t, []models.OrderStatus{models.OrderStatusAssigned, models.OrderStatusPicked}, seen)
}

func TestScenario_CourierCannotSkipFromPending(t *testing.T) {
	e := newEnv(t)
	o := e.order(t)

	_, err := e.svc.UpdateStatus(context.Background(), courierID, o.ID, models.OrderStatusInTransit)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	after, err := e.store.GetOrderByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusPending, after.Status)
}

func TestScenario_RacingAssignmentsOneWins(t *testing.T) {
	e := newEnv(t)
	o := e.order(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(i int, c string) {
			defer wg.Done()
			_, errs[i] = e.svc.AssignCourier(context.Background(), vendorID, o.ID, c)
		}(i, c)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.True(t, errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrStaleState), err.Error())
	}
	require.Equal(t, 1, wins)

	after, err := e.store.GetOrderByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusAssigned, after.Status)
	require.Contains(t, []string{"c1", "c2"}, after.CourierIDOrEmpty())
}

func TestUpdateLocation_OnlyAssignedCourier(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.order(t)
	_, err := e.svc.AssignCourier(ctx, vendorID, o.ID, "c1")
	require.NoError(t, err)

	loc := models.Location{Latitude: 40.72, Longitude: -74.0}
	for _, who := range []models.Identity{
		{UserID: "c2", Role: models.RoleDelivery},
		vendorID,
		{UserID: "u1", Role: models.RoleCustomer},
	} {
		_, err := e.svc.UpdateLocation(ctx, who, o.ID, loc)
		require.ErrorIs(t, err, models.ErrNotAuthorized, who.UserID)
	}
	after, _ := e.store.GetOrderByID(ctx, o.ID)
	require.Nil(t, after.CurrentLocation)
	require.Empty(t, after.LocationHistory)

	v, err := e.hub.Register(vendorID)
	require.NoError(t, err)

	got, err := e.svc.UpdateLocation(ctx, courierID, o.ID, loc)
	require.NoError(t, err)
	require.Len(t, got.LocationHistory, 1)
	require.Equal(t, got.LocationHistory[len(got.LocationHistory)-1], *got.CurrentLocation)

	kind, _ := nextEvent(t, v)
	require.Equal(t, realtime.KindLocationUpdated, kind)
}

func TestUpdateLocation_RejectedAfterDelivery(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.order(t)
	_, err := e.svc.AssignCourier(ctx, vendorID, o.ID, "c1")
	require.NoError(t, err)
	for _, st := range []models.OrderStatus{models.OrderStatusPicked, models.OrderStatusInTransit, models.OrderStatusDelivered} {
		_, err = e.svc.UpdateStatus(ctx, courierID, o.ID, st)
		require.NoError(t, err)
	}

	require.Equal(t, []string{o.ID}, e.ended.ids)

	_, err = e.svc.UpdateLocation(ctx, courierID, o.ID, models.Location{Latitude: 1, Longitude: 1})
	require.ErrorIs(t, err, models.ErrNotAuthorized)

	after, _ := e.store.GetOrderByID(ctx, o.ID)
	require.NotNil(t, after.DeliveredAt)
	_, err = e.svc.UpdateStatus(ctx, vendorID, o.ID, models.OrderStatusCancelled)
	require.ErrorIs(t, err, models.ErrInvalidTransition, "terminal states are final")
}

func TestCancel_VendorOrSystem(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	o := e.order(t)
	_, err := e.svc.UpdateStatus(ctx, courierID, o.ID, models.OrderStatusCancelled)
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = e.svc.UpdateStatus(ctx, models.Identity{UserID: "v2", Role: models.RoleVendor}, o.ID, models.OrderStatusCancelled)
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	got, err := e.svc.UpdateStatus(ctx, vendorID, o.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	require.NotNil(t, got.CancelledAt)

	o2 := e.order(t)
	_, err = e.svc.UpdateStatus(ctx, models.Identity{UserID: "timeouts", Role: models.RoleSystem}, o2.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
}

func TestUpdateStatus_Validation(t *testing.T) {
	e := newEnv(t)
	o := e.order(t)
	_, err := e.svc.UpdateStatus(context.Background(), vendorID, o.ID, "bogus")
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = e.svc.UpdateStatus(context.Background(), vendorID, o.ID, models.OrderStatusAssigned)
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = e.svc.UpdateStatus(context.Background(), courierID, "missing", models.OrderStatusPicked)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestReads(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.order(t)

	_, err := e.svc.GetOrder(ctx, models.Identity{UserID: "u1", Role: models.RoleCustomer}, o.ID)
	require.NoError(t, err)
	_, err = e.svc.GetOrder(ctx, models.Identity{UserID: "u2", Role: models.RoleCustomer}, o.ID)
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = e.svc.GetOrder(ctx, courierID, o.ID)
	require.ErrorIs(t, err, models.ErrNotAuthorized, "courier is not assigned yet")
	_, err = e.svc.GetOrder(ctx, vendorID, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = e.svc.CurrentLocation(ctx, vendorID, o.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
	hist, err := e.svc.LocationHistory(ctx, vendorID, o.ID)
	require.NoError(t, err)
	require.Empty(t, hist)

	_, err = e.svc.AssignCourier(ctx, vendorID, o.ID, "c1")
	require.NoError(t, err)
	_, err = e.svc.UpdateLocation(ctx, courierID, o.ID, models.Location{Latitude: 2, Longitude: 3})
	require.NoError(t, err)
	cur, err := e.svc.CurrentLocation(ctx, courierID, o.ID)
	require.NoError(t, err)
	require.InDelta(t, 2, cur.Latitude, 1e-9)
}

func TestTransitionTable_NeverReturnsToPending(t *testing.T) {
	all := []models.OrderStatus{
		models.OrderStatusPending, models.OrderStatusAccepted, models.OrderStatusAssigned, models.OrderStatusPicked,
		models.OrderStatusInTransit, models.OrderStatusDelivered, models.OrderStatusCancelled,
	}
	for _, from := range all {
		require.False(t, CanTransition(from, models.OrderStatusPending), from)
		if from.Terminal() {
			require.Empty(t, AllowedTransitions(from), from)
		} else {
			require.Contains(t, AllowedTransitions(from), models.OrderStatusCancelled, from)
		}
		require.False(t, CanTransition(from, from), "no self loops: %s", from)
	}

	// every status reachable from pending is reached by a strictly forward path
	reach := map[models.OrderStatus]bool{models.OrderStatusPending: true}
	queue := []models.OrderStatus{models.OrderStatusPending}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range AllowedTransitions(cur) {
			require.NotEqual(t, models.OrderStatusPending, next)
			if !reach[next] {
				reach[next] = true
				queue = append(queue, next)
			}
		}
	}
	require.False(t, reach[models.OrderStatusAccepted])
	require.True(t, reach[models.OrderStatusDelivered])
}
