// Package board lists open rides near a driver.
package board

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/example/ride-escrow/internal/geo"
	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/observability"
)

type Rides interface {
	Ride(id uint64) (ledger.Ride, error)
}

type Listing struct {
	Ride     ledger.Ride
	Distance float64
	Cell     string
}

// Service answers board queries from the geo index and confirms each hit
// against the ledger, since the index trails commits by the event bus.
type Service struct {
	Geo          geo.Index
	Rides        Rides
	RadiusMeters float64
	TopN         int
	Logger       *slog.Logger
}

func (s *Service) Open(ctx context.Context, lat, lng float64, limit int) ([]Listing, error) {
	if limit <= 0 || (s.TopN > 0 && limit > s.TopN) {
		limit = s.TopN
	}
	if limit <= 0 {
		limit = 10
	}
	cands, err := s.Geo.Nearby(ctx, lat, lng, s.RadiusMeters, 2*limit)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(cands))
	for _, c := range cands {
		r, err := s.Rides.Ride(c.RideID)
		if err != nil {
			if !errors.Is(err, ledger.ErrNotFound) {
				return nil, err
			}
			continue
		}
		if r.Status != ledger.StatusRequested {
			continue
		}
		out = append(out, Listing{Ride: r, Distance: c.Distance, Cell: c.Cell})
	}
	// nearest first, better paid first on ties
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Ride.Fare.Gt(out[j].Ride.Fare)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) Name() string { return "geo" }

// Publish keeps the index in step with committed events.
func (s *Service) Publish(ctx context.Context, ev ledger.Event) error {
	touched, err := geo.Apply(ctx, s.Geo, ev)
	if err != nil || !touched {
		return err
	}
	switch ev.Kind {
	case ledger.EventRideRequested:
		observability.OpenRides.Inc()
	case ledger.EventRideAccepted, ledger.EventRideCancelled:
		observability.OpenRides.Dec()
	}
	if s.Logger != nil {
		s.Logger.Debug("open_rides_updated", "ride_id", ev.RideID, "kind", ev.Kind)
	}
	return nil
}
