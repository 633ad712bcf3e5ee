// Package sequencer gives state-mutating calls a strict total order, the
// way a chain orders transactions into blocks.
package sequencer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/example/ride-escrow/internal/observability"
)

type Sequencer struct {
	turn chan struct{}
	n    atomic.Uint64
}

func New() *Sequencer {
	return &Sequencer{turn: make(chan struct{}, 1)}
}

// Do runs fn once every earlier call has returned. A caller whose context
// ends while waiting gets ctx.Err() and fn never runs. fn receives the
// call's sequence number through its context (see Number).
func (s *Sequencer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.turn }()
	observability.SequencerWait.Observe(time.Since(start).Seconds())

	n := s.n.Add(1)
	return fn(context.WithValue(ctx, numberKey{}, n))
}

// Calls is the number of calls that have been given a turn.
func (s *Sequencer) Calls() uint64 { return s.n.Load() }

type numberKey struct{}

// Number returns the sequence number Do attached to ctx, or 0.
func Number(ctx context.Context) uint64 {
	n, _ := ctx.Value(numberKey{}).(uint64)
	return n
}
