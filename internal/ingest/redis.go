package ingest

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-escrow/internal/events"
	"github.com/example/ride-escrow/internal/ledger"
)

// RedisPublisher broadcasts events on a pub/sub channel for dashboards that
// already hold a Redis connection.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (r *RedisPublisher) Name() string { return "redis" }

func (r *RedisPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	b, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}
