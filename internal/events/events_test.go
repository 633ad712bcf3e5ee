package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-escrow/internal/ledger"
)

type fakePublisher struct {
	mu   sync.Mutex
	name string
	fail bool
	got  []uint64
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(_ context.Context, ev ledger.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, ev.Seq)
	if f.fail {
		return errors.New("down")
	}
	return nil
}

func (f *fakePublisher) seqs() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.got...)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBusDeliversInOrderToEveryPublisher(t *testing.T) {
	ok := &fakePublisher{name: "ok"}
	broken := &fakePublisher{name: "broken", fail: true}
	log := NewLog(0)
	bus := NewBus(log, quietLogger(), 4, broken, ok)
	go bus.Run(context.Background())

	for i := uint64(1); i <= 10; i++ {
		bus.Publish(context.Background(), ledger.Event{Seq: i, Kind: ledger.EventRideRequested})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Close(ctx))

	want := []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, want, ok.seqs())
	assert.Equal(t, want, broken.seqs())
	assert.Equal(t, uint64(10), log.Last())
}

func TestPublishAfterCloseOnlyLogs(t *testing.T) {
	p := &fakePublisher{name: "p"}
	log := NewLog(0)
	bus := NewBus(log, quietLogger(), 1, p)
	go bus.Run(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Close(ctx))
	require.NoError(t, bus.Close(ctx))

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), ledger.Event{Seq: 1, Kind: ledger.EventRideRequested})
	})
	assert.Equal(t, uint64(1), log.Last())
	assert.Empty(t, p.seqs())
}

func TestLogAfter(t *testing.T) {
	log := NewLog(5)
	assert.Empty(t, log.After(0, 10))
	for i := uint64(1); i <= 8; i++ {
		log.Append(ledger.Event{Seq: i})
	}
	got := log.After(0, 0)
	require.Len(t, got, 5)
	assert.Equal(t, uint64(4), got[0].Seq)

	got = log.After(5, 2)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(6), got[0].Seq)
	assert.Equal(t, uint64(7), got[1].Seq)
	assert.Empty(t, log.After(8, 10))
}

func TestMarshalRoundTrip(t *testing.T) {
	fare := uint256.MustFromDecimal("1000000000000000000")
	ride := ledger.Ride{
		ID:     3,
		Rider:  common.HexToAddress("0x0000000000000000000000000000000000000a11"),
		Fare:   fare,
		Status: ledger.StatusAccepted,
		Pickup: ledger.Place{Address: "A", Lat: 1, Lng: -2},
	}
	ev := ledger.Event{Seq: 9, Kind: ledger.EventRideAccepted, RideID: 3, Rider: ride.Rider, Ride: &ride}

	b, err := Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"status":"Accepted"`)

	back, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, ev.Kind, back.Kind)
	require.NotNil(t, back.Ride)
	assert.True(t, back.Ride.Fare.Eq(fare))
	assert.Equal(t, ride.Pickup, back.Ride.Pickup)
	assert.Equal(t, ride.Rider, back.Rider)
}
