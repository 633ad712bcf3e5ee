package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type EventKind string

const (
	EventRideRequested        EventKind = "RideRequested"
	EventRideAccepted         EventKind = "RideAccepted"
	EventRideCompleted        EventKind = "RideCompleted"
	EventRideCancelled        EventKind = "RideCancelled"
	EventDriverRegistered     EventKind = "DriverRegistered"
	EventPlatformFeeUpdated   EventKind = "PlatformFeeUpdated"
	EventOwnershipTransferred EventKind = "OwnershipTransferred"
)

// Event is emitted once per committed mutation. Seq is assigned by the
// ledger and is gap free. Ride and Profile carry a snapshot of the record
// after the transition so observers need not read back.
type Event struct {
	Seq        uint64         `json:"seq"`
	Kind       EventKind      `json:"kind"`
	RideID     uint64         `json:"rideId,omitempty"`
	Rider      common.Address `json:"rider"`
	Driver     common.Address `json:"driver"`
	Fare       *uint256.Int   `json:"fare,omitempty"`
	Ride       *Ride          `json:"ride,omitempty"`
	Profile    *DriverProfile `json:"profile,omitempty"`
	FeePercent uint64         `json:"feePercent,omitempty"`
	Owner      common.Address `json:"owner"`
	At         time.Time      `json:"at"`
}

// Sink receives committed events in commit order. Publish must not call
// back into the ledger.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) {}
