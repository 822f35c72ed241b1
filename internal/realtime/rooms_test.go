package realtime

import (
	"testing"

	"github.com/BearBump/LiveTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestRoomsFor(t *testing.T) {
	rooms, public := RoomsFor(KindLocationUpdated, target)
	require.Equal(t, []string{"order:o1", "order:ORD-1", "vendor:v1"}, rooms)
	require.Equal(t, []string{"order:ORD-1"}, public)

	rooms, public = RoomsFor(KindStatusUpdated, target)
	require.Equal(t, []string{"order:o1", "order:ORD-1", "vendor:v1", "delivery:c1"}, rooms)
	require.Equal(t, []string{"order:ORD-1"}, public)

	rooms, public = RoomsFor(KindStatusUpdated, Target{OrderID: "o1", OrderNumber: "ORD-1", VendorID: "v1"})
	require.Equal(t, []string{"order:o1", "order:ORD-1", "vendor:v1"}, rooms, "no courier room before assignment")
	require.Len(t, public, 1)

	rooms, public = RoomsFor(KindOrderAssigned, target)
	require.Equal(t, []string{"delivery:c1"}, rooms)
	require.Empty(t, public)

	rooms, public = RoomsFor(Kind("unknown"), target)
	require.Nil(t, rooms)
	require.Nil(t, public)
}

func TestRoomsFor_SameIDAndNumber(t *testing.T) {
	rooms, _ := RoomsFor(KindLocationUpdated, Target{OrderID: "X", OrderNumber: "X"})
	require.Equal(t, []string{"order:X"}, rooms)
}

func TestRoleRoom(t *testing.T) {
	require.Equal(t, "vendor:a", RoleRoom(models.Identity{UserID: "a", Role: models.RoleVendor}))
	require.Equal(t, "delivery:a", RoleRoom(models.Identity{UserID: "a", Role: models.RoleDelivery}))
	require.Equal(t, "customer:a", RoleRoom(models.Identity{UserID: "a", Role: models.RoleCustomer}))
	require.Empty(t, RoleRoom(models.Identity{UserID: "a", Role: models.RoleSystem}))
}

func TestTargetOf(t *testing.T) {
	c := "c9"
	tg := TargetOf(&models.Order{ID: "o", OrderNumber: "N", VendorID: "v", CustomerID: "u", CourierID: &c})
	require.Equal(t, Target{OrderID: "o", OrderNumber: "N", VendorID: "v", CourierID: "c9", CustomerID: "u"}, tg)
}
