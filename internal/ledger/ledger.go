package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/example/ride-escrow/internal/observability"
)

const (
	DefaultFeePercent   = 2
	DefaultMinDriverAge = 18
)

// DefaultAddress is the custody account used when Config.Address is unset.
var DefaultAddress = common.HexToAddress("0x000000000000000000000000000000000000e5c0")

// Custody moves native value between accounts. Checkpoints nest; Rollback
// undoes every balance change made since the matching Checkpoint,
// including changes made by recipients while they were being paid.
type Custody interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	Balance(addr common.Address) *uint256.Int
	Checkpoint() int
	Rollback(cp int)
	Commit(cp int)
}

type Config struct {
	Owner        common.Address
	Address      common.Address
	FeePercent   uint64
	MinDriverAge uint32
}

// Ledger holds escrowed fares and runs the ride state machine. Every
// mutating call passes through one Guard; overlapping calls fail with
// ErrReentrant, so callers that may run concurrently must be serialized
// by the host (see internal/sequencer).
type Ledger struct {
	guard        Guard
	custody      Custody
	sink         Sink
	logger       *slog.Logger
	now          func() time.Time
	self         common.Address
	minDriverAge uint32

	mu         sync.RWMutex
	owner      common.Address
	feePercent uint64
	rides      []Ride // rides[id-1]
	drivers    map[common.Address]DriverProfile
	escrowed   uint256.Int
	seq        uint64
}

func New(cfg Config, custody Custody, sink Sink, logger *slog.Logger) (*Ledger, error) {
	if cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidOwner)
	}
	if cfg.FeePercent > MaxFeePercent {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrInvalidFee, cfg.FeePercent, MaxFeePercent)
	}
	if cfg.Address == (common.Address{}) {
		cfg.Address = DefaultAddress
	}
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		custody:      custody,
		sink:         sink,
		logger:       logger.With("component", "ledger"),
		now:          time.Now,
		self:         cfg.Address,
		minDriverAge: cfg.MinDriverAge,
		owner:        cfg.Owner,
		feePercent:   cfg.FeePercent,
		drivers:      make(map[common.Address]DriverProfile),
	}, nil
}

// RequestRide escrows value from rider and opens a ride for any driver to
// claim.
func (l *Ledger) RequestRide(ctx context.Context, rider common.Address, value *uint256.Int, trip Trip) (id uint64, err error) {
	defer l.observe("request", &err)()

	release, err := l.guard.Enter()
	if err != nil {
		return 0, err
	}
	defer release()

	if value == nil || value.IsZero() {
		return 0, ErrInvalidFare
	}
	if err := l.custody.Transfer(ctx, rider, l.self, value); err != nil {
		return 0, fmt.Errorf("escrow fare: %w", err)
	}

	now := l.now()
	l.mu.Lock()
	id = uint64(len(l.rides)) + 1
	l.rides = append(l.rides, Ride{
		ID:        id,
		Rider:     rider,
		Fare:      value.Clone(),
		Status:    StatusRequested,
		Pickup:    trip.Pickup,
		Dropoff:   trip.Dropoff,
		CreatedAt: now,
		UpdatedAt: now,
	})
	l.escrowed.Add(&l.escrowed, value)
	snap := l.rides[id-1].clone()
	l.mu.Unlock()

	l.emit(ctx, Event{Kind: EventRideRequested, RideID: id, Rider: rider, Fare: value.Clone(), Ride: &snap})
	l.logger.Info("ride_requested", "ride_id", id, "rider", rider.Hex(), "fare", value.Dec())
	return id, nil
}

// AcceptRide lets a registered driver claim a requested ride. A rider
// cannot claim their own ride.
func (l *Ledger) AcceptRide(ctx context.Context, driver common.Address, id uint64) (err error) {
	defer l.observe("accept", &err)()

	release, err := l.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	l.mu.Lock()
	ride, err := l.rideLocked(id)
	if err == nil {
		err = l.checkAccept(ride, driver)
	}
	if err != nil {
		l.mu.Unlock()
		return err
	}
	ride.Driver = driver
	ride.Status = StatusAccepted
	ride.UpdatedAt = l.now()
	snap := ride.clone()
	l.mu.Unlock()

	l.emit(ctx, Event{Kind: EventRideAccepted, RideID: id, Rider: snap.Rider, Driver: driver, Ride: &snap})
	l.logger.Info("ride_accepted", "ride_id", id, "driver", driver.Hex())
	return nil
}

func (l *Ledger) checkAccept(ride *Ride, driver common.Address) error {
	if ride.Status != StatusRequested {
		return fmt.Errorf("%w: ride %d is %s", ErrInvalidState, ride.ID, ride.Status)
	}
	if !l.drivers[driver].IsRegistered {
		return fmt.Errorf("%w: %s", ErrNotRegisteredDriver, driver.Hex())
	}
	if driver == ride.Rider {
		return fmt.Errorf("%w: rider cannot accept own ride %d", ErrUnauthorized, ride.ID)
	}
	return nil
}

// CompleteRide releases the escrowed fare: the driver's share first, then
// the protocol fee to the owner. The status is final before any value
// leaves; if a transfer fails both the status and all balances are put
// back and ErrTransferFailed is returned.
func (l *Ledger) CompleteRide(ctx context.Context, rider common.Address, id uint64) (err error) {
	defer l.observe("complete", &err)()

	release, err := l.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	l.mu.Lock()
	ride, err := l.riderTransitionLocked(id, rider, StatusAccepted)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	prev := *ride
	ride.Status = StatusCompleted
	ride.UpdatedAt = l.now()
	snap := ride.clone()
	payouts := completionPayouts(snap.Fare, l.feePercent, snap.Driver, l.owner)
	l.mu.Unlock()

	if err := l.settle(ctx, payouts); err != nil {
		l.restore(prev)
		l.logger.Warn("ride_completion_reverted", "ride_id", id, "error", err)
		return err
	}
	l.release(snap.Fare)

	l.emit(ctx, Event{Kind: EventRideCompleted, RideID: id, Rider: rider, Driver: snap.Driver, Fare: snap.Fare.Clone(), Ride: &snap})
	l.logger.Info("ride_completed", "ride_id", id, "driver", snap.Driver.Hex(),
		"driver_payment", payouts[0].amount.Dec(), "fee", payouts[1].amount.Dec())
	return nil
}

// CancelRide refunds the full fare to the rider. Only a ride nobody has
// accepted can be cancelled.
func (l *Ledger) CancelRide(ctx context.Context, rider common.Address, id uint64) (err error) {
	defer l.observe("cancel", &err)()

	release, err := l.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	l.mu.Lock()
	ride, err := l.riderTransitionLocked(id, rider, StatusRequested)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	prev := *ride
	ride.Status = StatusCancelled
	ride.UpdatedAt = l.now()
	snap := ride.clone()
	l.mu.Unlock()

	if err := l.settle(ctx, refundPayout(snap.Fare, rider)); err != nil {
		l.restore(prev)
		l.logger.Warn("ride_cancellation_reverted", "ride_id", id, "error", err)
		return err
	}
	l.release(snap.Fare)

	l.emit(ctx, Event{Kind: EventRideCancelled, RideID: id, Rider: rider, Ride: &snap})
	l.logger.Info("ride_cancelled", "ride_id", id, "rider", rider.Hex(), "refund", snap.Fare.Dec())
	return nil
}

// riderTransitionLocked checks existence, then state, then that caller is
// the ride's rider, in that order.
func (l *Ledger) riderTransitionLocked(id uint64, caller common.Address, want Status) (*Ride, error) {
	ride, err := l.rideLocked(id)
	if err != nil {
		return nil, err
	}
	if ride.Status != want {
		return nil, fmt.Errorf("%w: ride %d is %s, want %s", ErrInvalidState, id, ride.Status, want)
	}
	if caller != ride.Rider {
		return nil, fmt.Errorf("%w: %s is not the rider of ride %d", ErrUnauthorized, caller.Hex(), id)
	}
	return ride, nil
}

func (l *Ledger) rideLocked(id uint64) (*Ride, error) {
	if id == 0 || id > uint64(len(l.rides)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return &l.rides[id-1], nil
}

func (l *Ledger) restore(prev Ride) {
	l.mu.Lock()
	l.rides[prev.ID-1] = prev
	l.mu.Unlock()
}

// release drops a settled fare from the escrow total.
func (l *Ledger) release(fare *uint256.Int) {
	l.mu.Lock()
	l.escrowed.Sub(&l.escrowed, fare)
	l.mu.Unlock()
}

func (l *Ledger) emit(ctx context.Context, ev Event) {
	l.mu.Lock()
	l.seq++
	ev.Seq = l.seq
	l.mu.Unlock()
	ev.At = l.now()
	l.sink.Publish(ctx, ev)
}

// observe records the outcome of a call; use as defer l.observe(op, &err)().
func (l *Ledger) observe(op string, err *error) func() {
	start := time.Now()
	return func() {
		result := "ok"
		if *err != nil {
			result = Kind(*err)
		}
		if result == "Reentrant" {
			observability.ReentrancyTrips.Inc()
		}
		observability.LedgerCallsTotal.WithLabelValues(op, result).Inc()
		observability.LedgerCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		observability.SetEscrowed(l.Escrowed())
	}
}

// Ride returns a copy of ride id.
func (l *Ledger) Ride(id uint64) (Ride, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, err := l.rideLocked(id)
	if err != nil {
		return Ride{}, err
	}
	return r.clone(), nil
}

// RideCount is the number of rides ever requested; ids run 1..RideCount.
func (l *Ledger) RideCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.rides))
}

// Address is the account that holds escrowed fares.
func (l *Ledger) Address() common.Address { return l.self }

// Escrowed is the sum of fares of rides that are Requested or Accepted.
// Outside an in-flight call it equals the custody balance of Address().
func (l *Ledger) Escrowed() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.escrowed.Clone()
}
