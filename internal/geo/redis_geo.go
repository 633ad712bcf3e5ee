package geo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
)

// RedisIndex implements Index using Redis GEO commands. Members of the geo
// set are ride ids; a hash per ride carries the cell and fare.
type RedisIndex struct {
	client redis.UniversalClient
	key    string
}

func NewRedisIndex(client redis.UniversalClient, key string) *RedisIndex {
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) Add(ctx context.Context, o OpenRide) error {
	if o.Cell == "" {
		o.Cell = Cell(o.Lat, o.Lng)
	}
	member := strconv.FormatUint(o.RideID, 10)
	meta := map[string]interface{}{"cell": o.Cell}
	if o.Fare != nil {
		meta["fare"] = o.Fare.Dec()
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: o.Lng, Latitude: o.Lat, Name: member})
		p.HSet(ctx, r.metaKey(o.RideID), meta)
		return nil
	})
	if err != nil {
		return fmt.Errorf("geo add ride %d: %w", o.RideID, err)
	}
	return nil
}

func (r *RedisIndex) Remove(ctx context.Context, rideID uint64) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, r.key, strconv.FormatUint(rideID, 10))
		p.Del(ctx, r.metaKey(rideID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("geo remove ride %d: %w", rideID, err)
	}
	return nil
}

// wholeEarthMeters exceeds any great-circle distance, so a query with it
// covers every member.
const wholeEarthMeters = 20_100_000

func (r *RedisIndex) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]OpenRide, error) {
	if radiusMeters <= 0 {
		radiusMeters = wholeEarthMeters
	}
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusMeters, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo radius: %w", err)
	}
	out := make([]OpenRide, 0, len(res))
	for _, g := range res {
		id, err := strconv.ParseUint(g.Name, 10, 64)
		if err != nil {
			continue
		}
		o := OpenRide{RideID: id, Lat: g.Latitude, Lng: g.Longitude, Distance: g.Dist}
		if m, err := r.client.HGetAll(ctx, r.metaKey(id)).Result(); err == nil {
			o.Cell = m["cell"]
			if v, ok := m["fare"]; ok {
				if fare, err := uint256.FromDecimal(v); err == nil {
					o.Fare = fare
				}
			}
		}
		out = append(out, o)
	}
	return out, nil
}

// Reset drops every indexed ride along with its metadata.
func (r *RedisIndex) Reset(ctx context.Context) error {
	members, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("geo reset: %w", err)
	}
	keys := []string{r.key}
	for _, m := range members {
		keys = append(keys, r.key+":meta:"+m)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("geo reset: %w", err)
	}
	return nil
}

func (r *RedisIndex) metaKey(id uint64) string { return r.key + ":meta:" + strconv.FormatUint(id, 10) }
