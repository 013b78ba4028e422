// Package relay implements the Outbox Relay: a single-writer claim loop
// that publishes outbox rows to the message bus and deletes them on ack,
// giving at-least-once delivery ordered per (topic, key).
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ftgo/backbone/internal/adapter/observability"
	obpg "github.com/ftgo/backbone/internal/outbox/postgres"
)

// ClaimBatchSize bounds how many rows a single poll claims at once.
const ClaimBatchSize = 100

// Publisher is the bus-facing half of the relay; internal/bus.Producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Relay polls the outbox table and publishes claimed rows.
type Relay struct {
	pool          *pgxpool.Pool
	publisher     Publisher
	pollInterval  time.Duration
	retryBackoff  func() backoff.BackOff
	publishBudget time.Duration
}

// Config configures relay timing.
type Config struct {
	PollInterval  time.Duration
	PublishBudget time.Duration
	RetryInitial  time.Duration
	RetryMax      time.Duration
	RetryElapsed  time.Duration
	RetryMultiple float64
}

// New constructs a Relay.
func New(pool *pgxpool.Pool, publisher Publisher, cfg Config) *Relay {
	return &Relay{
		pool:          pool,
		publisher:     publisher,
		pollInterval:  cfg.PollInterval,
		publishBudget: cfg.PublishBudget,
		retryBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.RetryInitial
			b.MaxInterval = cfg.RetryMax
			b.MaxElapsedTime = cfg.RetryElapsed
			b.Multiplier = cfg.RetryMultiple
			return b
		},
	}
}

// Run polls until ctx is cancelled, claiming and publishing one batch per
// iteration. Every publish failure that survives its retry budget aborts
// the batch's transaction, leaving the row unclaimed for the next poll
// rather than skipping it: dropping a row here would silently violate
// at-least-once delivery.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.pollOnce(ctx)
		if err != nil {
			slog.Error("outbox relay poll failed", slog.Any("error", err))
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pollInterval):
			}
		}

		if backlog, err := obpg.Backlog(ctx, r.pool); err == nil {
			observability.SetOutboxBacklog(backlog)
		}
	}
}

func (r *Relay) pollOnce(ctx context.Context) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := obpg.Claim(ctx, tx, ClaimBatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, tx.Commit(ctx)
	}

	claimedAt := time.Now()
	for _, row := range rows {
		pubCtx, cancel := context.WithTimeout(ctx, r.publishBudget)
		err := backoff.Retry(func() error {
			return r.publisher.Publish(pubCtx, row.Topic, row.Key, row.Value)
		}, backoff.WithContext(r.retryBackoff(), pubCtx))
		cancel()
		if err != nil {
			observability.RecordOutboxPublishFailure(row.Topic)
			if errors.Is(err, context.Canceled) {
				return 0, err
			}
			return 0, err
		}
		observability.RecordOutboxPublish(row.Topic, (row.Age + time.Since(claimedAt)).Seconds())
		if err := obpg.Delete(ctx, tx, row.ID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(rows), nil
}
