package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/BearBump/LiveTrack/internal/broker/messages"
	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOrderEvent(ctx context.Context, ev messages.OrderEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func TestRelay_NotifyDeliversLocallyAndPublishes(t *testing.T) {
	h := NewHub(Options{})
	v, _ := h.Register(vendor)
	pub := &mockPublisher{}
	pub.On("PublishOrderEvent", mock.Anything, mock.MatchedBy(func(ev messages.OrderEvent) bool {
		return ev.Origin == "node-a" && ev.Kind == string(KindStatusUpdated) &&
			ev.OrderNumber == "ORD-1" && len(ev.Public) > 0
	})).Return(nil).Once()

	r := NewRelay(h, pub, "node-a")
	err := r.Notify(context.Background(), KindStatusUpdated, target, StatusUpdated{OrderID: "o1", OrderNumber: "ORD-1"})
	require.NoError(t, err)

	require.Equal(t, KindStatusUpdated, recv(t, v).Event)
	pub.AssertExpectations(t)
}

func TestRelay_BrokerFailureDoesNotFailNotify(t *testing.T) {
	h := NewHub(Options{})
	pub := &mockPublisher{}
	pub.On("PublishOrderEvent", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	r := NewRelay(h, pub, "node-a")
	require.NoError(t, r.Notify(context.Background(), KindOrderCreated, target, OrderCreated{OrderID: "o1"}))
	pub.AssertExpectations(t)
}

func TestRelay_NilPublisher(t *testing.T) {
	r := NewRelay(NewHub(Options{}), nil, "")
	require.NotEmpty(t, r.Origin())
	require.NoError(t, r.Notify(context.Background(), KindOrderCreated, target, OrderCreated{}))
}

func TestRelay_ApplySkipsOwnOrigin(t *testing.T) {
	h := NewHub(Options{})
	v, _ := h.Register(vendor)
	r := NewRelay(h, nil, "node-a")

	data, _ := json.Marshal(OrderCreated{OrderID: "o1"})
	ev := messages.OrderEvent{Origin: "node-a", Kind: string(KindOrderCreated), OrderID: "o1", VendorID: "v1", Data: data}
	require.NoError(t, r.Apply(context.Background(), ev))
	requireEmpty(t, v)

	ev.Origin = "node-b"
	require.NoError(t, r.Apply(context.Background(), ev))
	require.Equal(t, KindOrderCreated, recv(t, v).Event)
}

func TestRelay_HandleMessageRoundTrip(t *testing.T) {
	// node-a publishes, node-b consumes.
	var captured messages.OrderEvent
	pub := &mockPublisher{}
	pub.On("PublishOrderEvent", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(messages.OrderEvent) }).
		Return(nil)

	a := NewRelay(NewHub(Options{}), pub, "node-a")
	require.NoError(t, a.Notify(context.Background(), KindLocationUpdated, target, LocationUpdated{
		OrderID: "o1", OrderNumber: "ORD-1", Location: models.Location{Latitude: 5}, DeliveryPartnerID: "c1",
	}))

	hb := NewHub(Options{})
	watcher := hb.RegisterPublic()
	require.NoError(t, hb.JoinPublic(watcher, "ORD-1"))
	b := NewRelay(hb, nil, "node-b")

	raw, err := json.Marshal(captured)
	require.NoError(t, err)
	require.NoError(t, b.HandleMessage(context.Background(), []byte("o1"), raw))

	f := recv(t, watcher)
	require.Equal(t, KindLocationUpdated, f.Event)
	require.NotContains(t, string(f.Data), "c1")
}

func TestRelay_HandleMessageBadPayload(t *testing.T) {
	r := NewRelay(NewHub(Options{}), nil, "node-a")
	require.NoError(t, r.HandleMessage(context.Background(), nil, []byte("{not json")))
	require.NoError(t, r.Apply(context.Background(), messages.OrderEvent{Origin: "x", Kind: "weird"}))
}
