package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
)

// Handler processes one consumed record's key and value. An error leaves
// the record's offset uncommitted so it is redelivered on the next poll;
// handlers must be idempotent since redelivery and rebalances both cause
// at-least-once reprocessing.
type Handler func(ctx context.Context, key, value []byte, headers []kgo.RecordHeader) error

// Consumer wraps a kgo consumer group over a single topic with sequential
// per-partition handling. It does not use transactional EOS: see bus
// package doc for why.
type Consumer struct {
	client *kgo.Client
}

// NewConsumer constructs a Consumer subscribed to topic under groupID.
func NewConsumer(brokers []string, groupID, topic string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=bus.NewConsumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=bus.NewConsumer: missing group id")
	}

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelSvc := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelSvc.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=bus.NewConsumer: new client: %w", err)
	}
	return &Consumer{client: client}, nil
}

// Run polls until ctx is cancelled, invoking handle for each record in
// fetch order and committing offsets only for records handle accepted.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				slog.Error("bus consumer fetch error",
					slog.String("topic", e.Topic),
					slog.Int("partition", int(e.Partition)),
					slog.Any("error", e.Err))
			}
		}

		fetches.EachRecord(func(r *kgo.Record) {
			if err := handle(ctx, r.Key, r.Value, r.Headers); err != nil {
				slog.Error("bus handler failed, offset will be redelivered",
					slog.String("topic", r.Topic),
					slog.Any("error", err))
				return
			}
			c.client.MarkCommitRecords(r)
		})
	}
}

// Close releases the underlying client.
func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}

// Ping checks broker connectivity for readiness checks.
func (c *Consumer) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		return fmt.Errorf("op=bus.Ping: %w", err)
	}
	return nil
}
