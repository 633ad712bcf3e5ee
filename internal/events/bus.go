// Package events fans committed ledger events out to the in-memory log and
// to outward publishers (Kafka, Redis, websockets, webhooks, read models).
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-escrow/internal/ledger"
	"github.com/example/ride-escrow/internal/observability"
)

// Publisher delivers one event somewhere outside the ledger. Errors are
// logged and counted; they never affect ledger state.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev ledger.Event) error
}

const (
	defaultQueueSize = 1024
	enqueueTimeout   = 2 * time.Second
)

// Bus implements ledger.Sink. Publish appends to the log synchronously and
// queues the event for publishers, which a single Run loop feeds in commit
// order.
type Bus struct {
	log        *Log
	publishers []Publisher
	logger     *slog.Logger
	queue      chan ledger.Event
	done       chan struct{}

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
}

func NewBus(log *Log, logger *slog.Logger, queueSize int, publishers ...Publisher) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		log:        log,
		publishers: publishers,
		logger:     logger.With("component", "event_bus"),
		queue:      make(chan ledger.Event, queueSize),
		done:       make(chan struct{}),
	}
}

func (b *Bus) Publish(_ context.Context, ev ledger.Event) {
	if b.log != nil {
		b.log.Append(ev)
	}
	if len(b.publishers) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		observability.EventsDropped.Inc()
		b.logger.Warn("event dropped, bus closed", "seq", ev.Seq, "kind", ev.Kind)
		return
	}
	select {
	case b.queue <- ev:
		return
	default:
	}
	t := time.NewTimer(enqueueTimeout)
	defer t.Stop()
	select {
	case b.queue <- ev:
	case <-t.C:
		observability.EventsDropped.Inc()
		b.logger.Warn("event dropped, queue full", "seq", ev.Seq, "kind", ev.Kind)
	}
}

// Run delivers queued events until Close is called and the queue drains.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	for ev := range b.queue {
		for _, p := range b.publishers {
			result := "ok"
			if err := p.Publish(ctx, ev); err != nil {
				result = "error"
				b.logger.Error("event publish failed", "sink", p.Name(), "seq", ev.Seq, "kind", ev.Kind, "error", err)
			}
			observability.EventsPublished.WithLabelValues(p.Name(), result).Inc()
		}
	}
}

// Close stops intake and waits for Run to drain, or for ctx to end. Events
// published afterwards still reach the log but no publisher.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Marshal is the wire form shared by every transport.
func Marshal(ev ledger.Event) ([]byte, error) { return json.Marshal(&ev) }

func Unmarshal(b []byte) (ledger.Event, error) {
	var ev ledger.Event
	err := json.Unmarshal(b, &ev)
	return ev, err
}
