// Package storage keeps a queryable read model of rides and drivers, built
// from ledger events.
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/ride-escrow/internal/ledger"
)

var ErrNotFound = errors.New("not found")

// RideFilter narrows ListRides. Zero fields match everything.
type RideFilter struct {
	Status *ledger.Status
	Rider  *common.Address
	Driver *common.Address
	Limit  int
	Offset int
}

func (f RideFilter) match(r ledger.Ride) bool {
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Rider != nil && r.Rider != *f.Rider {
		return false
	}
	if f.Driver != nil && r.Driver != *f.Driver {
		return false
	}
	return true
}

// RideStore persists projections. Saves carry the event sequence number
// and are ignored when an equal or newer one was already applied, so
// replays are harmless.
type RideStore interface {
	SaveRide(ctx context.Context, seq uint64, r ledger.Ride) error
	SaveDriver(ctx context.Context, seq uint64, addr common.Address, p ledger.DriverProfile) error
	GetRide(ctx context.Context, id uint64) (ledger.Ride, error)
	GetDriver(ctx context.Context, addr common.Address) (ledger.DriverProfile, error)
	ListRides(ctx context.Context, f RideFilter) ([]ledger.Ride, error)
	Ping(ctx context.Context) error
}

type versioned[T any] struct {
	seq uint64
	v   T
}

type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[uint64]versioned[ledger.Ride]
	drivers map[common.Address]versioned[ledger.DriverProfile]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[uint64]versioned[ledger.Ride]),
		drivers: make(map[common.Address]versioned[ledger.DriverProfile]),
	}
}

func (m *MemoryStore) SaveRide(_ context.Context, seq uint64, r ledger.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.rides[r.ID]; ok && cur.seq >= seq {
		return nil
	}
	m.rides[r.ID] = versioned[ledger.Ride]{seq: seq, v: r}
	return nil
}

func (m *MemoryStore) SaveDriver(_ context.Context, seq uint64, addr common.Address, p ledger.DriverProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.drivers[addr]; ok && cur.seq >= seq {
		return nil
	}
	m.drivers[addr] = versioned[ledger.DriverProfile]{seq: seq, v: p}
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id uint64) (ledger.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return ledger.Ride{}, ErrNotFound
	}
	return r.v, nil
}

func (m *MemoryStore) GetDriver(_ context.Context, addr common.Address) (ledger.DriverProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[addr]
	if !ok {
		return ledger.DriverProfile{}, ErrNotFound
	}
	return d.v, nil
}

// ListRides returns matching rides ordered by id.
func (m *MemoryStore) ListRides(_ context.Context, f RideFilter) ([]ledger.Ride, error) {
	m.mu.RLock()
	out := make([]ledger.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		if f.match(r.v) {
			out = append(out, r.v)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []ledger.Ride{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
