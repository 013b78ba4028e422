// Package postgres implements the Checkpoint/Subscription store: an
// outer-join query returning events newer than a subscriber's durable
// watermark, and an upsert recording progress.
package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ftgo/backbone/internal/domain"
)

// Store implements domain.CheckpointStore.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EventsAfterCheckpoint returns all events newer than subscriptionID's
// recorded checkpoint on streams named streamPrefix-*, ordered by
// (stream_name, sequence). A stream absent from checkpoints is treated as
// checkpointed at -1, i.e. "start from the beginning". streamPrefix scopes
// a subscription to one aggregate type's streams, the way the event store
// names them ("Account-<id>"); a projection over a different aggregate
// type runs its own subscription with its own prefix.
func (s *Store) EventsAfterCheckpoint(ctx domain.Context, subscriptionID, streamPrefix string) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.stream_name, e.sequence, e.event_id, e.event_type, e.payload, e.created_at
		FROM events e
		LEFT JOIN checkpoints c
		  ON c.stream_name = e.stream_name AND c.subscription_id = $1
		WHERE e.sequence > COALESCE(c.sequence, -1)
		  AND e.stream_name LIKE $2 || '-%'
		ORDER BY e.stream_name ASC, e.sequence ASC`, subscriptionID, streamPrefix)
	if err != nil {
		return nil, fmt.Errorf("op=checkpoint.EventsAfterCheckpoint: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.StreamName, &e.Sequence, &e.ID, &e.Metadata.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=checkpoint.EventsAfterCheckpoint: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=checkpoint.EventsAfterCheckpoint: rows: %w", err)
	}
	return out, nil
}

// Store upserts subscriptionID's position on streamName using the pool,
// outside any caller transaction. The projection runtime calls StoreTx
// instead (see internal/projection), in the same transaction as its own
// state change, so advancing the checkpoint and applying the event are
// atomic, making reprocessing after a crash a no-op instead of a
// double-apply.
func (s *Store) Store(ctx domain.Context, subscriptionID, streamName string, sequence int64) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (subscription_id, stream_name, sequence, checkpointed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (subscription_id, stream_name)
		DO UPDATE SET sequence = EXCLUDED.sequence, checkpointed_at = EXCLUDED.checkpointed_at`,
		subscriptionID, streamName, sequence); err != nil {
		return fmt.Errorf("op=checkpoint.Store: %w", err)
	}
	return nil
}

// StoreTx is Store using an externally managed transaction, so advancing
// the checkpoint commits atomically with the projection's own write.
func StoreTx(ctx domain.Context, tx pgx.Tx, subscriptionID, streamName string, sequence int64) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO checkpoints (subscription_id, stream_name, sequence, checkpointed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (subscription_id, stream_name)
		DO UPDATE SET sequence = EXCLUDED.sequence, checkpointed_at = EXCLUDED.checkpointed_at`,
		subscriptionID, streamName, sequence); err != nil {
		return fmt.Errorf("op=checkpoint.StoreTx: %w", err)
	}
	return nil
}
