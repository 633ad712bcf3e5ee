package board

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-escrow/internal/geo"
	"github.com/example/ride-escrow/internal/ledger"
)

type fakeGeo struct{ rides []geo.OpenRide }

func (f *fakeGeo) Add(context.Context, geo.OpenRide) error { return nil }
func (f *fakeGeo) Remove(context.Context, uint64) error    { return nil }
func (f *fakeGeo) Nearby(context.Context, float64, float64, float64, int) ([]geo.OpenRide, error) {
	return f.rides, nil
}

type fakeRides map[uint64]ledger.Ride

func (f fakeRides) Ride(id uint64) (ledger.Ride, error) {
	r, ok := f[id]
	if !ok {
		return ledger.Ride{}, ledger.ErrNotFound
	}
	return r, nil
}

func TestChooseHigherFareIfDistanceEqual(t *testing.T) {
	g := &fakeGeo{rides: []geo.OpenRide{
		{RideID: 1, Distance: 100},
		{RideID: 2, Distance: 100},
		{RideID: 3, Distance: 50},
	}}
	rides := fakeRides{
		1: {ID: 1, Fare: uint256.NewInt(10), Status: ledger.StatusRequested},
		2: {ID: 2, Fare: uint256.NewInt(20), Status: ledger.StatusRequested},
		3: {ID: 3, Fare: uint256.NewInt(1), Status: ledger.StatusRequested},
	}
	s := &Service{Geo: g, Rides: rides, TopN: 10}

	got, err := s.Open(context.Background(), 0, 0, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Ride.ID)
	assert.Equal(t, uint64(2), got[1].Ride.ID)
	assert.Equal(t, uint64(1), got[2].Ride.ID)
}

func TestOpenSkipsStaleEntries(t *testing.T) {
	g := &fakeGeo{rides: []geo.OpenRide{{RideID: 1}, {RideID: 2}, {RideID: 9}}}
	rides := fakeRides{
		1: {ID: 1, Fare: uint256.NewInt(10), Status: ledger.StatusAccepted},
		2: {ID: 2, Fare: uint256.NewInt(10), Status: ledger.StatusRequested},
	}
	s := &Service{Geo: g, Rides: rides}

	got, err := s.Open(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Ride.ID)
}

func TestPublishMaintainsIndex(t *testing.T) {
	idx := geo.NewMemoryIndex()
	ride := ledger.Ride{ID: 1, Fare: uint256.NewInt(1), Status: ledger.StatusRequested}
	s := &Service{Geo: idx, Rides: fakeRides{1: ride}}
	ctx := context.Background()

	require.NoError(t, s.Publish(ctx, ledger.Event{Kind: ledger.EventRideRequested, RideID: 1, Ride: &ride}))
	got, err := s.Open(ctx, 0, 0, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.Publish(ctx, ledger.Event{Kind: ledger.EventRideCancelled, RideID: 1}))
	assert.Zero(t, idx.Len())
}
