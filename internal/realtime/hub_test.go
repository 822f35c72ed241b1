package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/stretchr/testify/require"
)

type gotFrame struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func recv(t *testing.T, c *Client) gotFrame {
	t.Helper()
	select {
	case b := <-c.Outbound():
		var f gotFrame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
	return gotFrame{}
}

func requireEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.Outbound():
		t.Fatalf("unexpected message: %s", b)
	default:
	}
}

var (
	vendor   = models.Identity{UserID: "v1", Role: models.RoleVendor}
	courier  = models.Identity{UserID: "c1", Role: models.RoleDelivery}
	customer = models.Identity{UserID: "u1", Role: models.RoleCustomer}
	target   = Target{OrderID: "o1", OrderNumber: "ORD-1", VendorID: "v1", CourierID: "c1", CustomerID: "u1"}
)

func TestRegister_JoinsRoleRoom(t *testing.T) {
	h := NewHub(Options{})

	v, err := h.Register(vendor)
	require.NoError(t, err)
	require.True(t, v.InRoom("vendor:v1"))

	c, err := h.Register(courier)
	require.NoError(t, err)
	require.True(t, c.InRoom("delivery:c1"))

	_, err = h.Register(models.Identity{UserID: "x", Role: models.RoleSystem})
	require.ErrorIs(t, err, models.ErrNotAuthorized)
	_, err = h.Register(models.Identity{Role: models.RoleVendor})
	require.ErrorIs(t, err, models.ErrNotAuthorized)

	require.Equal(t, 2, h.Stats().Connections)
}

func TestJoin_Idempotent(t *testing.T) {
	h := NewHub(Options{})
	c, err := h.Register(customer)
	require.NoError(t, err)

	require.NoError(t, h.Join(c, "order:o1"))
	require.NoError(t, h.Join(c, "order:o1"))
	require.Equal(t, 1, h.RoomSize(DomainAuthenticated, "order:o1"))

	n, err := h.Publish("order:o1", KindStatusUpdated, map[string]string{"x": "y"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	recv(t, c)
	requireEmpty(t, c)
}

func TestDispatch_LocationFanout(t *testing.T) {
	h := NewHub(Options{})
	v, _ := h.Register(vendor)
	c, _ := h.Register(courier)
	byID, _ := h.Register(customer)
	require.NoError(t, h.Join(byID, OrderRoom("o1")))
	byNumber, _ := h.Register(models.Identity{UserID: "u2", Role: models.RoleCustomer})
	require.NoError(t, h.Join(byNumber, OrderRoom("ORD-1")))
	pub := h.RegisterPublic()
	require.NoError(t, h.JoinPublic(pub, "ORD-1"))

	loc := models.Location{Latitude: 1, Longitude: 2}
	n, err := h.Dispatch(KindLocationUpdated, target, LocationUpdated{
		OrderID: "o1", OrderNumber: "ORD-1", Location: loc, DeliveryPartnerID: "c1",
	})
	require.NoError(t, err)
	require.Equal(t, 4, n)

	for _, cl := range []*Client{v, byID, byNumber} {
		f := recv(t, cl)
		require.Equal(t, KindLocationUpdated, f.Event)
		var p LocationUpdated
		require.NoError(t, json.Unmarshal(f.Data, &p))
		require.Equal(t, "c1", p.DeliveryPartnerID)
	}
	// courier room is not a location target
	requireEmpty(t, c)

	f := recv(t, pub)
	require.Equal(t, KindLocationUpdated, f.Event)
	require.NotContains(t, string(f.Data), "c1")
	require.NotContains(t, string(f.Data), "o1")
	var p PublicLocation
	require.NoError(t, json.Unmarshal(f.Data, &p))
	require.Equal(t, "ORD-1", p.OrderNumber)
	require.Equal(t, loc.Latitude, p.Location.Latitude)
}

func TestDispatch_StatusReachesCourierAndDedups(t *testing.T) {
	h := NewHub(Options{})
	v, _ := h.Register(vendor)
	require.NoError(t, h.Join(v, OrderRoom("o1")))
	c, _ := h.Register(courier)

	n, err := h.Dispatch(KindStatusUpdated, target, StatusUpdated{
		OrderID: "o1", OrderNumber: "ORD-1", Status: models.OrderStatusPicked, UpdatedBy: "c1",
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Equal(t, KindStatusUpdated, recv(t, v).Event)
	requireEmpty(t, v)
	require.Equal(t, KindStatusUpdated, recv(t, c).Event)
}

func TestDispatch_OrderAssignedOnlyCourier(t *testing.T) {
	h := NewHub(Options{})
	v, _ := h.Register(vendor)
	c, _ := h.Register(courier)
	pub := h.RegisterPublic()
	require.NoError(t, h.JoinPublic(pub, "ORD-1"))

	_, err := h.Dispatch(KindOrderAssigned, target, OrderAssigned{OrderID: "o1", VendorID: "v1"})
	require.NoError(t, err)

	require.Equal(t, KindOrderAssigned, recv(t, c).Event)
	requireEmpty(t, v)
	requireEmpty(t, pub)
}

func TestDispatch_UnknownKind(t *testing.T) {
	h := NewHub(Options{})
	_, err := h.Dispatch(Kind("nope"), target, struct{}{})
	require.Error(t, err)
}

func TestDomainsAreSeparate(t *testing.T) {
	h := NewHub(Options{})
	auth, _ := h.Register(customer)
	pub := h.RegisterPublic()

	require.ErrorIs(t, h.Join(pub, OrderRoom("o1")), ErrWrongDomain)
	require.ErrorIs(t, h.JoinPublic(auth, "ORD-1"), ErrWrongDomain)
	require.ErrorIs(t, h.JoinPublic(pub, ""), ErrBadRoom)

	require.NoError(t, h.JoinPublic(pub, "ORD-1"))
	// Publishing to an authenticated room with the same name does not reach
	// public subscribers.
	n, err := h.Publish(OrderRoom("ORD-1"), KindStatusUpdated, map[string]string{"secret": "x"})
	require.NoError(t, err)
	require.Zero(t, n)
	requireEmpty(t, pub)
}

func TestLeaveAndUnregister(t *testing.T) {
	h := NewHub(Options{})
	c, _ := h.Register(customer)
	require.NoError(t, h.Join(c, "order:o1"))

	h.Leave(c, "order:o1")
	require.Zero(t, h.RoomSize(DomainAuthenticated, "order:o1"))
	require.False(t, c.InRoom("order:o1"))

	h.Unregister(c)
	h.Unregister(c)
	select {
	case <-c.Done():
	default:
		t.Fatal("client not closed")
	}
	require.Zero(t, h.Stats().Connections)
	require.Zero(t, h.Stats().Rooms)
	require.ErrorIs(t, h.Join(c, "order:o1"), ErrClientClosed)
}

func TestSlowSubscriberIsEvicted(t *testing.T) {
	h := NewHub(Options{Buffer: 2})
	slow, _ := h.Register(vendor)
	fast, _ := h.Register(models.Identity{UserID: "v1", Role: models.RoleVendor})

	var wg sync.WaitGroup
	wg.Add(1)
	got := 0
	go func() {
		defer wg.Done()
		for range 5 {
			select {
			case <-fast.Outbound():
				got++
			case <-time.After(time.Second):
				return
			}
		}
	}()

	for i := range 5 {
		_, err := h.Publish("vendor:v1", KindOrderCreated, map[string]int{"i": i})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	require.Equal(t, 5, got)
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow client should be closed")
	}
	require.EqualValues(t, 1, h.Stats().Evicted)
	require.Equal(t, 1, h.RoomSize(DomainAuthenticated, "vendor:v1"))
}

func TestPerRoomOrdering(t *testing.T) {
	h := NewHub(Options{Buffer: 128})
	c, _ := h.Register(customer)
	require.NoError(t, h.Join(c, "order:o1"))

	for i := range 100 {
		_, err := h.Publish("order:o1", KindStatusUpdated, map[string]int{"seq": i})
		require.NoError(t, err)
	}
	for i := range 100 {
		var p map[string]int
		require.NoError(t, json.Unmarshal(recv(t, c).Data, &p))
		require.Equal(t, i, p["seq"])
	}
}

func TestSendSnapshot(t *testing.T) {
	h := NewHub(Options{})
	pub := h.RegisterPublic()
	require.NoError(t, h.Send(pub, KindSnapshot, Snapshot{OrderNumber: "ORD-1", Status: models.OrderStatusAssigned}))

	f := recv(t, pub)
	require.Equal(t, KindSnapshot, f.Event)

	h.Unregister(pub)
	require.ErrorIs(t, h.Send(pub, KindSnapshot, Snapshot{}), ErrClientClosed)
}

func TestConcurrentJoinPublishLeave(t *testing.T) {
	h := NewHub(Options{Buffer: 1024})
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := h.Register(models.Identity{UserID: "u", Role: models.RoleCustomer})
			require.NoError(t, err)
			for range 50 {
				_ = h.Join(c, "order:o1")
				_, _ = h.Dispatch(KindStatusUpdated, target, StatusUpdated{OrderID: "o1"})
				h.Leave(c, "order:o1")
			}
			h.Unregister(c)
		}(i)
	}
	wg.Wait()
	require.Zero(t, h.Stats().Connections)
	require.Zero(t, h.RoomSize(DomainAuthenticated, "order:o1"))
}

func TestClose(t *testing.T) {
	h := NewHub(Options{})
	a, _ := h.Register(vendor)
	p := h.RegisterPublic()
	h.Close()
	<-a.Done()
	<-p.Done()
	require.Zero(t, h.Stats().Connections)
	require.Zero(t, h.Stats().PublicConnections)
}
