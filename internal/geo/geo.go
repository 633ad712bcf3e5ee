// Package geo indexes the pickup points of rides that are still waiting for
// a driver.
package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/mmcloughlin/geohash"
)

// CellPrecision is the geohash length stored with each entry (~150m cells).
const CellPrecision = 7

// OpenRide is one entry in the index. Distance is only set on results of
// Nearby.
type OpenRide struct {
	RideID   uint64       `json:"rideId"`
	Lat      float64      `json:"lat"`
	Lng      float64      `json:"lng"`
	Cell     string       `json:"cell"`
	Fare     *uint256.Int `json:"fare,omitempty"`
	Distance float64      `json:"distanceMeters"`
}

// Index is the minimal interface required by the ride board and the
// indexer. Nearby treats a radius of zero or less as unlimited.
type Index interface {
	Add(ctx context.Context, r OpenRide) error
	Remove(ctx context.Context, rideID uint64) error
	Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]OpenRide, error)
}

// Cell returns the geohash cell of a point.
func Cell(lat, lng float64) string { return geohash.EncodeWithPrecision(lat, lng, CellPrecision) }

type MemoryIndex struct {
	mu    sync.RWMutex
	rides map[uint64]OpenRide
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{rides: make(map[uint64]OpenRide)}
}

func (g *MemoryIndex) Add(_ context.Context, r OpenRide) error {
	if r.Cell == "" {
		r.Cell = Cell(r.Lat, r.Lng)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rides[r.RideID] = r
	return nil
}

func (g *MemoryIndex) Remove(_ context.Context, rideID uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rides, rideID)
	return nil
}

// Nearby scans every entry; fine for the number of rides open at once.
func (g *MemoryIndex) Nearby(_ context.Context, lat, lng, radiusMeters float64, limit int) ([]OpenRide, error) {
	g.mu.RLock()
	out := make([]OpenRide, 0, len(g.rides))
	for _, r := range g.rides {
		r.Distance = Haversine(lat, lng, r.Lat, r.Lng)
		if radiusMeters > 0 && r.Distance > radiusMeters {
			continue
		}
		out = append(out, r)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].RideID < out[j].RideID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *MemoryIndex) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rides)
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
