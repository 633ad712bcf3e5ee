// Package ingest moves ledger events onto and off the message brokers.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-escrow/internal/events"
	"github.com/example/ride-escrow/internal/ledger"
)

const writeTimeout = 2 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each event keyed by ride id, so one ride's events
// land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Name() string { return "kafka" }

func (k *KafkaPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	b, err := events.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     messageKey(ev),
		Value:   b,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(ev.Kind)}},
		Time:    ev.At,
	})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func messageKey(ev ledger.Event) []byte {
	if ev.RideID != 0 {
		return []byte("ride-" + strconv.FormatUint(ev.RideID, 10))
	}
	return []byte(string(ev.Kind))
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads events from a consumer group. Offsets are committed
// only after the handler succeeds.
type KafkaConsumer struct {
	reader messageReader
}

func NewKafkaConsumer(brokers []string, topic, group string) *KafkaConsumer {
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	return &KafkaConsumer{reader: r}
}

// InvalidMessageError marks a payload that could not be decoded; such
// messages are committed and skipped.
type InvalidMessageError struct {
	Offset int64
	Err    error
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid message at offset %d: %v", e.Offset, e.Err)
}

func (e *InvalidMessageError) Unwrap() error { return e.Err }

// Next fetches one message and decodes it. The caller passes the returned
// message to Commit once the event has been applied.
func (c *KafkaConsumer) Next(ctx context.Context) (ledger.Event, kafka.Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return ledger.Event{}, m, err
	}
	ev, err := events.Unmarshal(m.Value)
	if err != nil {
		return ledger.Event{}, m, &InvalidMessageError{Offset: m.Offset, Err: err}
	}
	return ev, m, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, m kafka.Message) error {
	return c.reader.CommitMessages(ctx, m)
}

func (c *KafkaConsumer) Close() error { return c.reader.Close() }
