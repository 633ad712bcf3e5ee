package ledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/vault"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	rider    = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	driver   = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000bad")

	oneCoin = uint256.MustFromDecimal("1000000000000000000")
)

// recorder keeps every event the ledger emits.
type recorder struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (r *recorder) Publish(_ context.Context, ev ledger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []ledger.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) last() ledger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	l    *ledger.Ledger
	book *vault.Book
	rec  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	book := vault.NewBook()
	ten := new(uint256.Int).Mul(oneCoin, uint256.NewInt(10))
	require.NoError(t, book.Credit(rider, ten))
	require.NoError(t, book.Credit(stranger, ten))
	rec := &recorder{}
	l, err := ledger.New(ledger.Config{
		Owner:        owner,
		FeePercent:   ledger.DefaultFeePercent,
		MinDriverAge: ledger.DefaultMinDriverAge,
	}, book, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return &fixture{l: l, book: book, rec: rec}
}

func (f *fixture) registerDriver(t *testing.T, addr common.Address) {
	t.Helper()
	require.NoError(t, f.l.RegisterDriver(context.Background(), addr, ledger.DriverProfile{
		Name: "Asha", Age: 29, Gender: "female", VehicleName: "Bajaj RE", VehicleType: "auto",
	}))
}

func (f *fixture) request(t *testing.T, fare *uint256.Int) uint64 {
	t.Helper()
	id, err := f.l.RequestRide(context.Background(), rider, fare, trip())
	require.NoError(t, err)
	return id
}

func trip() ledger.Trip {
	return ledger.Trip{
		Pickup:  ledger.Place{Address: "MG Road", Lat: 12975526, Lng: 77606790},
		Dropoff: ledger.Place{Address: "Indiranagar", Lat: 12971891, Lng: 77641151},
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := ledger.New(ledger.Config{}, vault.NewBook(), nil, nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidOwner)

	_, err = ledger.New(ledger.Config{Owner: owner, FeePercent: 101}, vault.NewBook(), nil, nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidFee)
}

func TestRequestRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.l.RequestRide(ctx, rider, new(uint256.Int), trip())
	assert.ErrorIs(t, err, ledger.ErrInvalidFare)
	_, err = f.l.RequestRide(ctx, rider, nil, trip())
	assert.ErrorIs(t, err, ledger.ErrInvalidFare)
	assert.Equal(t, uint64(0), f.l.RideCount())
	assert.Empty(t, f.rec.kinds())

	id := f.request(t, oneCoin)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, uint64(1), f.l.RideCount())

	ride, err := f.l.Ride(id)
	require.NoError(t, err)
	assert.Equal(t, rider, ride.Rider)
	assert.False(t, ride.HasDriver())
	assert.Equal(t, ledger.StatusRequested, ride.Status)
	assert.True(t, ride.Fare.Eq(oneCoin))
	assert.Equal(t, trip().Pickup, ride.Pickup)
	assert.Equal(t, trip().Dropoff, ride.Dropoff)

	assert.True(t, f.book.Balance(f.l.Address()).Eq(oneCoin))
	assert.True(t, f.l.Escrowed().Eq(oneCoin))

	ev := f.rec.last()
	assert.Equal(t, ledger.EventRideRequested, ev.Kind)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, id, ev.RideID)
	assert.Equal(t, rider, ev.Rider)
	assert.True(t, ev.Fare.Eq(oneCoin))

	assert.Equal(t, uint64(2), f.request(t, uint256.NewInt(7)))
}

func TestRequestRideWithoutFundsChangesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.l.RequestRide(context.Background(), driver, oneCoin, trip())
	assert.ErrorIs(t, err, vault.ErrInsufficientBalance)
	assert.Equal(t, uint64(0), f.l.RideCount())
	assert.True(t, f.book.Balance(f.l.Address()).IsZero())
}

func TestRideReturnsCopy(t *testing.T) {
	f := newFixture(t)
	id := f.request(t, oneCoin)
	ride, err := f.l.Ride(id)
	require.NoError(t, err)
	ride.Fare.SetUint64(1)

	again, err := f.l.Ride(id)
	require.NoError(t, err)
	assert.True(t, again.Fare.Eq(oneCoin))
}

func TestRideNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.l.Ride(0)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = f.l.Ride(1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAcceptRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)

	assert.ErrorIs(t, f.l.AcceptRide(ctx, driver, 99), ledger.ErrNotFound)

	require.NoError(t, f.l.AcceptRide(ctx, driver, id))
	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusAccepted, ride.Status)
	assert.Equal(t, driver, ride.Driver)

	ev := f.rec.last()
	assert.Equal(t, ledger.EventRideAccepted, ev.Kind)
	assert.Equal(t, driver, ev.Driver)

	assert.ErrorIs(t, f.l.AcceptRide(ctx, driver, id), ledger.ErrInvalidState)
}

func TestAcceptRideByUnregisteredCaller(t *testing.T) {
	f := newFixture(t)
	id := f.request(t, oneCoin)

	err := f.l.AcceptRide(context.Background(), stranger, id)
	assert.ErrorIs(t, err, ledger.ErrNotRegisteredDriver)
	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusRequested, ride.Status)
	assert.False(t, ride.HasDriver())
}

func TestRiderCannotAcceptOwnRide(t *testing.T) {
	f := newFixture(t)
	f.registerDriver(t, rider)
	id := f.request(t, oneCoin)

	assert.ErrorIs(t, f.l.AcceptRide(context.Background(), rider, id), ledger.ErrUnauthorized)
}

// Scenario A: 1 coin fare, 98% to the driver and 2% to the owner.
func TestCompleteRidePaysDriverAndFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)
	require.NoError(t, f.l.AcceptRide(ctx, driver, id))

	require.NoError(t, f.l.CompleteRide(ctx, rider, id))

	assert.Equal(t, "980000000000000000", f.book.Balance(driver).Dec())
	assert.Equal(t, "20000000000000000", f.book.Balance(owner).Dec())
	assert.True(t, f.book.Balance(f.l.Address()).IsZero())
	assert.True(t, f.l.Escrowed().IsZero())

	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusCompleted, ride.Status)

	ev := f.rec.last()
	assert.Equal(t, ledger.EventRideCompleted, ev.Kind)
	assert.Equal(t, driver, ev.Driver)
	assert.True(t, ev.Fare.Eq(oneCoin))
}

func TestCompleteRideChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)

	assert.ErrorIs(t, f.l.CompleteRide(ctx, rider, 42), ledger.ErrNotFound)
	assert.ErrorIs(t, f.l.CompleteRide(ctx, rider, id), ledger.ErrInvalidState)

	require.NoError(t, f.l.AcceptRide(ctx, driver, id))
	assert.ErrorIs(t, f.l.CompleteRide(ctx, driver, id), ledger.ErrUnauthorized)
	assert.ErrorIs(t, f.l.CompleteRide(ctx, stranger, id), ledger.ErrUnauthorized)
	assert.ErrorIs(t, f.l.CancelRide(ctx, rider, id), ledger.ErrInvalidState)

	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusAccepted, ride.Status)
	assert.True(t, f.book.Balance(f.l.Address()).Eq(oneCoin))
}

// Scenario B: cancel before accept refunds the whole fare.
func TestCancelRideRefundsRider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.book.Balance(rider)
	fare := uint256.NewInt(123_456_789)
	id := f.request(t, fare)

	assert.ErrorIs(t, f.l.CancelRide(ctx, stranger, id), ledger.ErrUnauthorized)
	require.NoError(t, f.l.CancelRide(ctx, rider, id))

	assert.True(t, f.book.Balance(rider).Eq(before))
	assert.True(t, f.book.Balance(f.l.Address()).IsZero())
	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusCancelled, ride.Status)

	ev := f.rec.last()
	assert.Equal(t, ledger.EventRideCancelled, ev.Kind)
	assert.Equal(t, rider, ev.Rider)
}

func TestSettlementHappensExactlyOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("after complete", func(t *testing.T) {
		f := newFixture(t)
		f.registerDriver(t, driver)
		id := f.request(t, oneCoin)
		require.NoError(t, f.l.AcceptRide(ctx, driver, id))
		require.NoError(t, f.l.CompleteRide(ctx, rider, id))

		assert.ErrorIs(t, f.l.CompleteRide(ctx, rider, id), ledger.ErrInvalidState)
		assert.ErrorIs(t, f.l.CancelRide(ctx, rider, id), ledger.ErrInvalidState)
		assert.Equal(t, "980000000000000000", f.book.Balance(driver).Dec())
	})

	t.Run("after cancel", func(t *testing.T) {
		f := newFixture(t)
		f.registerDriver(t, driver)
		id := f.request(t, oneCoin)
		require.NoError(t, f.l.CancelRide(ctx, rider, id))

		assert.ErrorIs(t, f.l.CancelRide(ctx, rider, id), ledger.ErrInvalidState)
		assert.ErrorIs(t, f.l.CompleteRide(ctx, rider, id), ledger.ErrInvalidState)
		assert.ErrorIs(t, f.l.AcceptRide(ctx, driver, id), ledger.ErrInvalidState)
		assert.True(t, f.book.Balance(driver).IsZero())
	})
}

func TestCompleteRideRevertsWhenDriverRejectsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)
	require.NoError(t, f.l.AcceptRide(ctx, driver, id))
	events := len(f.rec.kinds())

	f.book.SetReceiver(driver, vault.ReceiverFunc(func(context.Context, common.Address, *uint256.Int) error {
		return errors.New("cannot receive")
	}))
	err := f.l.CompleteRide(ctx, rider, id)
	assert.ErrorIs(t, err, ledger.ErrTransferFailed)
	assert.ErrorIs(t, err, vault.ErrRejected)
	assert.Equal(t, "TransferFailed", ledger.Kind(err))

	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusAccepted, ride.Status)
	assert.True(t, f.book.Balance(f.l.Address()).Eq(oneCoin))
	assert.True(t, f.book.Balance(driver).IsZero())
	assert.True(t, f.l.Escrowed().Eq(oneCoin))
	assert.Len(t, f.rec.kinds(), events)

	// retryable once the recipient accepts value again
	f.book.SetReceiver(driver, nil)
	require.NoError(t, f.l.CompleteRide(ctx, rider, id))
}

func TestCompleteRideRevertsDriverLegWhenFeeLegFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)
	require.NoError(t, f.l.AcceptRide(ctx, driver, id))

	f.book.SetReceiver(owner, vault.ReceiverFunc(func(context.Context, common.Address, *uint256.Int) error {
		return errors.New("treasury paused")
	}))
	err := f.l.CompleteRide(ctx, rider, id)
	assert.ErrorIs(t, err, ledger.ErrTransferFailed)

	assert.True(t, f.book.Balance(driver).IsZero())
	assert.True(t, f.book.Balance(owner).IsZero())
	assert.True(t, f.book.Balance(f.l.Address()).Eq(oneCoin))
	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusAccepted, ride.Status)
}

func TestCancelRideRevertsWhenRefundRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.request(t, oneCoin)

	f.book.SetReceiver(rider, vault.ReceiverFunc(func(context.Context, common.Address, *uint256.Int) error {
		return errors.New("no fallback")
	}))
	assert.ErrorIs(t, f.l.CancelRide(ctx, rider, id), ledger.ErrTransferFailed)
	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusRequested, ride.Status)
	assert.True(t, f.book.Balance(f.l.Address()).Eq(oneCoin))
}

func TestReentrantCompleteFromDriverPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)
	require.NoError(t, f.l.AcceptRide(ctx, driver, id))

	var (
		reentryErr  error
		seenStatus  ledger.Status
		reentryCall int
	)
	f.book.SetReceiver(driver, vault.ReceiverFunc(func(ctx context.Context, _ common.Address, _ *uint256.Int) error {
		reentryCall++
		reentryErr = f.l.CompleteRide(ctx, rider, id)
		r, _ := f.l.Ride(id)
		seenStatus = r.Status
		return nil
	}))

	require.NoError(t, f.l.CompleteRide(ctx, rider, id))
	assert.Equal(t, 1, reentryCall)
	assert.ErrorIs(t, reentryErr, ledger.ErrReentrant)
	// status was finalized before the payment went out
	assert.Equal(t, ledger.StatusCompleted, seenStatus)
	assert.Equal(t, "980000000000000000", f.book.Balance(driver).Dec())
	assert.Equal(t, "20000000000000000", f.book.Balance(owner).Dec())
}

func TestReentryFailurePropagatedByRecipientRevertsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)
	require.NoError(t, f.l.AcceptRide(ctx, driver, id))

	f.book.SetReceiver(driver, vault.ReceiverFunc(func(ctx context.Context, _ common.Address, _ *uint256.Int) error {
		return f.l.CancelRide(ctx, rider, id)
	}))
	err := f.l.CompleteRide(ctx, rider, id)
	assert.ErrorIs(t, err, ledger.ErrTransferFailed)
	assert.ErrorIs(t, err, ledger.ErrReentrant)
	assert.Equal(t, "TransferFailed", ledger.Kind(err))

	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusAccepted, ride.Status)
	assert.True(t, f.book.Balance(f.l.Address()).Eq(oneCoin))
}

func TestRecipientSpendingPaymentIsUndoneOnRevert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)
	require.NoError(t, f.l.AcceptRide(ctx, driver, id))

	// the driver forwards what it receives, then the fee leg fails
	f.book.SetReceiver(driver, vault.ReceiverFunc(func(ctx context.Context, _ common.Address, amount *uint256.Int) error {
		return f.book.Transfer(ctx, driver, stranger, amount)
	}))
	f.book.SetReceiver(owner, vault.ReceiverFunc(func(context.Context, common.Address, *uint256.Int) error {
		return errors.New("closed")
	}))
	strangerBefore := f.book.Balance(stranger)

	assert.ErrorIs(t, f.l.CompleteRide(ctx, rider, id), ledger.ErrTransferFailed)
	assert.True(t, f.book.Balance(stranger).Eq(strangerBefore))
	assert.True(t, f.book.Balance(driver).IsZero())
	assert.True(t, f.book.Balance(f.l.Address()).Eq(oneCoin))
}

// Scenario C: a non-driver cannot claim.
func TestScenarioUnregisteredAccept(t *testing.T) {
	f := newFixture(t)
	id := f.request(t, oneCoin)
	assert.ErrorIs(t, f.l.AcceptRide(context.Background(), stranger, id), ledger.ErrNotRegisteredDriver)
	ride, _ := f.l.Ride(id)
	assert.Equal(t, ledger.StatusRequested, ride.Status)
}

func TestZeroFeeSkipsFeeLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.l.SetPlatformFee(ctx, owner, 0))
	f.registerDriver(t, driver)
	f.book.SetReceiver(owner, vault.ReceiverFunc(func(context.Context, common.Address, *uint256.Int) error {
		return errors.New("must not be called")
	}))
	id := f.request(t, uint256.NewInt(49))
	require.NoError(t, f.l.AcceptRide(ctx, driver, id))
	require.NoError(t, f.l.CompleteRide(ctx, rider, id))
	assert.Equal(t, uint64(49), f.book.Balance(driver).Uint64())
}

func TestEventSequenceIsGapFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerDriver(t, driver)
	id := f.request(t, oneCoin)
	_ = f.l.AcceptRide(ctx, stranger, id) // fails, no event
	require.NoError(t, f.l.AcceptRide(ctx, driver, id))
	require.NoError(t, f.l.CompleteRide(ctx, rider, id))

	assert.Equal(t, []ledger.EventKind{
		ledger.EventDriverRegistered,
		ledger.EventRideRequested,
		ledger.EventRideAccepted,
		ledger.EventRideCompleted,
	}, f.rec.kinds())
	for i, ev := range f.rec.events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", ledger.Kind(nil))
	assert.Equal(t, "NotFound", ledger.Kind(ledger.ErrNotFound))
	assert.Equal(t, "Internal", ledger.Kind(errors.New("boom")))
}
