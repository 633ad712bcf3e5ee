package storage

import (
	"context"
	"fmt"

	"github.com/example/ride-escrow/internal/ledger"
)

// Projector writes ledger events into a RideStore.
type Projector struct {
	Store RideStore
}

func (p *Projector) Name() string { return "read_model" }

func (p *Projector) Publish(ctx context.Context, ev ledger.Event) error {
	switch {
	case ev.Ride != nil:
		if err := p.Store.SaveRide(ctx, ev.Seq, *ev.Ride); err != nil {
			return fmt.Errorf("project ride %d: %w", ev.RideID, err)
		}
	case ev.Kind == ledger.EventDriverRegistered && ev.Profile != nil:
		if err := p.Store.SaveDriver(ctx, ev.Seq, ev.Driver, *ev.Profile); err != nil {
			return fmt.Errorf("project driver %s: %w", ev.Driver.Hex(), err)
		}
	}
	return nil
}
