// Package projection implements the Projection Runtime: a per-event
// transaction loop that applies checkpointed events to a read model,
// advancing the checkpoint in the same transaction as the model write so
// that redelivery after a crash can never double-apply.
package projection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	ckpg "github.com/ftgo/backbone/internal/checkpoint/postgres"
	"github.com/ftgo/backbone/internal/adapter/observability"
	"github.com/ftgo/backbone/internal/domain"
)

// Apply applies one checkpointed event to the read model using tx, the
// same transaction the runtime uses to advance the checkpoint. Apply must
// not commit or roll back tx itself.
type Apply func(ctx context.Context, tx pgx.Tx, event domain.Event) error

// Runtime polls a subscription's backlog and applies it with Apply.
type Runtime struct {
	pool           *pgxpool.Pool
	checkpoints    *ckpg.Store
	subscriptionID string
	streamPrefix   string
	apply          Apply
	pollInterval   time.Duration
}

// New constructs a Runtime for subscriptionID, scoped to streams named
// streamPrefix-* (the aggregate type whose events this projection reads).
func New(pool *pgxpool.Pool, checkpoints *ckpg.Store, subscriptionID, streamPrefix string, apply Apply, pollInterval time.Duration) *Runtime {
	return &Runtime{
		pool:           pool,
		checkpoints:    checkpoints,
		subscriptionID: subscriptionID,
		streamPrefix:   streamPrefix,
		apply:          apply,
		pollInterval:   pollInterval,
	}
}

// Run polls until ctx is cancelled, applying the subscription's full
// backlog each iteration before sleeping.
func (r *Runtime) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := r.drainOnce(ctx)
		if err != nil {
			slog.Error("projection drain failed",
				slog.String("subscription_id", r.subscriptionID), slog.Any("error", err))
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pollInterval):
			}
		}
	}
}

func (r *Runtime) drainOnce(ctx context.Context) (int, error) {
	events, err := r.checkpoints.EventsAfterCheckpoint(ctx, r.subscriptionID, r.streamPrefix)
	if err != nil {
		return 0, fmt.Errorf("op=projection.drainOnce: %w", err)
	}

	for _, e := range events {
		if err := r.applyOne(ctx, e); err != nil {
			return 0, fmt.Errorf("op=projection.drainOnce: stream=%s sequence=%d: %w", e.StreamName, e.Sequence, err)
		}
		observability.RecordProjectionEvent(r.subscriptionID, e.Metadata.EventType)
	}
	return len(events), nil
}

func (r *Runtime) applyOne(ctx context.Context, event domain.Event) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.apply(ctx, tx, event); err != nil {
		return err
	}
	if err := ckpg.StoreTx(ctx, tx, r.subscriptionID, event.StreamName, event.Sequence); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
