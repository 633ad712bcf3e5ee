package geo

import (
	"context"

	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/units"
)

// Apply keeps idx in step with the ledger: a requested ride is added at its
// pickup point and leaves the index once accepted or cancelled. It reports
// whether the event touched the index.
func Apply(ctx context.Context, idx Index, ev ledger.Event) (bool, error) {
	switch ev.Kind {
	case ledger.EventRideRequested:
		if ev.Ride == nil {
			return false, nil
		}
		lat, lng := units.DecodeCoord(ev.Ride.Pickup.Lat), units.DecodeCoord(ev.Ride.Pickup.Lng)
		return true, idx.Add(ctx, OpenRide{RideID: ev.RideID, Lat: lat, Lng: lng, Fare: ev.Ride.Fare})
	case ledger.EventRideAccepted, ledger.EventRideCancelled, ledger.EventRideCompleted:
		return true, idx.Remove(ctx, ev.RideID)
	}
	return false, nil
}
