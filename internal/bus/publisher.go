// Package bus is the Message Bus Adapter: a thin franz-go wrapper giving
// the Outbox Relay and saga participants ordered, partition-keyed,
// at-least-once publish, and consumers a simple per-message handler loop.
// It deliberately does not use Kafka transactions: the system's
// exactly-once guarantee comes from the outbox+checkpoint pattern, not
// from wire-level EOS, which spec Non-goals explicitly exclude.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/ftgo/backbone/internal/adapter/observability"
	"github.com/ftgo/backbone/internal/domain"
)

// Producer publishes to partition-keyed topics. It satisfies domain.Publisher.
//
// A publish trips the circuit breaker after 5 consecutive failures, so a
// broker outage fails fast instead of letting every relay poll tick block
// for the full ProduceSync timeout.
type Producer struct {
	client  *kgo.Client
	breaker *observability.CircuitBreaker
}

// NewProducer constructs a Producer over the given seed brokers.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=bus.NewProducer: no seed brokers provided")
	}

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelSvc := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.WithHooks(kotelSvc.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=bus.NewProducer: new client: %w", err)
	}
	breaker := observability.NewCircuitBreaker("bus.publish", 5, 10*time.Second)
	return &Producer{client: client, breaker: breaker}, nil
}

// Publish produces one record to topic, keyed for partition ordering, and
// waits synchronously for the broker ack.
func (p *Producer) Publish(ctx domain.Context, topic, key string, value []byte) error {
	err := p.breaker.Call(func() error {
		record := &kgo.Record{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		}
		res := p.client.ProduceSync(ctx, record)
		return res.FirstErr()
	})
	if err != nil {
		return fmt.Errorf("op=bus.Publish: %w", err)
	}
	return nil
}

// EnsureTopic idempotently creates topic with the given partition count,
// tolerating a concurrent creator. A single relay keeps per-key ordering
// regardless of partition count since kgo hashes key to a fixed partition.
func (p *Producer) EnsureTopic(ctx context.Context, topic string, partitions int32) error {
	if err := ensureTopic(ctx, p.client, topic, partitions, 1); err != nil {
		slog.Warn("topic creation failed, it may already exist",
			slog.String("topic", topic), slog.Any("error", err))
	}
	return nil
}

// Close releases the underlying client.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}

// Ping checks broker connectivity for readiness checks.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("op=bus.Ping: %w", err)
	}
	return nil
}
