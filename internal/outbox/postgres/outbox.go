// Package postgres implements the transactional Outbox on top of pgx: an
// Enqueue that participates in the caller's transaction, and the claim
// queries used by the Outbox Relay.
package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ftgo/backbone/internal/domain"
)

// Outbox enqueues rows using the pool directly; it satisfies
// domain.OutboxWriter for callers that do not need to share a transaction
// with an Event Store append.
type Outbox struct {
	pool *pgxpool.Pool
}

// New constructs an Outbox over pool.
func New(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool}
}

// Enqueue inserts a row into the outbox table.
func (o *Outbox) Enqueue(ctx domain.Context, topic, key string, value []byte) error {
	if _, err := o.pool.Exec(ctx,
		`INSERT INTO outbox (topic, key, value, created_at) VALUES ($1, $2, $3, now())`,
		topic, key, value); err != nil {
		return fmt.Errorf("op=outbox.Enqueue: %w", err)
	}
	return nil
}

// EnqueueTx inserts a row into the outbox table using an externally managed
// transaction, so the insert commits atomically with a domain state change.
func EnqueueTx(ctx domain.Context, tx pgx.Tx, topic, key string, value []byte) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO outbox (topic, key, value, created_at) VALUES ($1, $2, $3, now())`,
		topic, key, value); err != nil {
		return fmt.Errorf("op=outbox.EnqueueTx: %w", err)
	}
	return nil
}

// ClaimedRow is a single outbox row claimed for publishing by the relay.
type ClaimedRow struct {
	ID    int64
	Topic string
	Key   string
	Value []byte
	Age   time.Duration
}

// Claim locks and returns up to limit unpublished rows in ascending id
// order, skipping rows already locked by another relay instance. A single
// running relay instance is what preserves per-(topic,key) publish order;
// running two relay instances concurrently against the same outbox table
// breaks that ordering guarantee even though SKIP LOCKED makes it safe.
func Claim(ctx domain.Context, tx pgx.Tx, limit int) ([]ClaimedRow, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, topic, key, value, created_at FROM outbox
		 ORDER BY id ASC LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("op=outbox.Claim: %w", err)
	}
	defer rows.Close()

	var out []ClaimedRow
	now := time.Now()
	for rows.Next() {
		var r ClaimedRow
		var createdAt time.Time
		if err := rows.Scan(&r.ID, &r.Topic, &r.Key, &r.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("op=outbox.Claim: scan: %w", err)
		}
		r.Age = now.Sub(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=outbox.Claim: rows: %w", err)
	}
	return out, nil
}

// Delete removes a published row.
func Delete(ctx domain.Context, tx pgx.Tx, id int64) error {
	if _, err := tx.Exec(ctx, `DELETE FROM outbox WHERE id = $1`, id); err != nil {
		return fmt.Errorf("op=outbox.Delete: %w", err)
	}
	return nil
}

// Backlog reports the current count of unpublished rows, for the relay's
// gauge metric.
func Backlog(ctx domain.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=outbox.Backlog: %w", err)
	}
	return n, nil
}
