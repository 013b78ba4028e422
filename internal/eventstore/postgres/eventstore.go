// Package postgres implements the Event Store port on top of a pgx
// connection pool, with row-level locking providing the per-stream
// monotonic sequence invariant under concurrent appends.
package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ftgo/backbone/internal/adapter/observability"
	"github.com/ftgo/backbone/internal/domain"
)

// EventStore appends to and reads from the event_stream/events tables. It
// satisfies domain.EventStore.
type EventStore struct {
	pool *pgxpool.Pool
}

// New constructs an EventStore over pool.
func New(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts events onto stream under condition inside a single
// transaction, returning their assigned sequences in input order. The
// stream header row is locked FOR UPDATE for the duration of the
// transaction so that concurrent appenders to the same stream serialize
// on the precondition check. A stream with no header row yet has nothing to
// lock: concurrent first appends race on the header insert, and the losers
// fail with a unique-violation error rather than
// *domain.ErrAppendConditionFailed.
func (s *EventStore) Append(ctx domain.Context, stream string, events []domain.NewEvent, condition domain.AppendCondition) ([]int64, error) {
	start := time.Now()
	streamType := streamTypeOf(stream)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		observability.RecordAppend(streamType, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("op=eventstore.Append: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	last, err := lockStream(ctx, tx, stream)
	if err != nil {
		observability.RecordAppend(streamType, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("op=eventstore.Append: %w", err)
	}

	if err := checkCondition(stream, condition, last); err != nil {
		observability.RecordAppend(streamType, "condition_failed", time.Since(start).Seconds())
		return nil, err
	}

	if last == -1 {
		if _, err := tx.Exec(ctx, `INSERT INTO event_stream (stream_name, last_sequence) VALUES ($1, -1)`, stream); err != nil {
			observability.RecordAppend(streamType, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("op=eventstore.Append: create stream header: %w", err)
		}
	}

	batch := &pgx.Batch{}
	sequences := make([]int64, len(events))
	for i, e := range events {
		seq := last + int64(i) + 1
		sequences[i] = seq
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(
			`INSERT INTO events (stream_name, sequence, event_id, event_type, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5, now())`,
			stream, seq, id, e.Metadata.EventType, e.Payload,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			observability.RecordAppend(streamType, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("op=eventstore.Append: insert event: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		observability.RecordAppend(streamType, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("op=eventstore.Append: close batch: %w", err)
	}

	newLast := sequences[len(sequences)-1]
	if _, err := tx.Exec(ctx, `UPDATE event_stream SET last_sequence = $2 WHERE stream_name = $1`, stream, newLast); err != nil {
		observability.RecordAppend(streamType, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("op=eventstore.Append: update stream header: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		observability.RecordAppend(streamType, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("op=eventstore.Append: commit: %w", err)
	}

	observability.RecordAppend(streamType, "ok", time.Since(start).Seconds())
	return sequences, nil
}

// AppendTx is Append using an externally managed transaction, so a caller
// can enqueue an outbox row in the same transaction as the domain append.
func AppendTx(ctx domain.Context, tx pgx.Tx, stream string, events []domain.NewEvent, condition domain.AppendCondition) ([]int64, error) {
	last, err := lockStream(ctx, tx, stream)
	if err != nil {
		return nil, fmt.Errorf("op=eventstore.AppendTx: %w", err)
	}
	if err := checkCondition(stream, condition, last); err != nil {
		return nil, err
	}
	if last == -1 {
		if _, err := tx.Exec(ctx, `INSERT INTO event_stream (stream_name, last_sequence) VALUES ($1, -1)`, stream); err != nil {
			return nil, fmt.Errorf("op=eventstore.AppendTx: create stream header: %w", err)
		}
	}
	sequences := make([]int64, len(events))
	for i, e := range events {
		seq := last + int64(i) + 1
		sequences[i] = seq
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (stream_name, sequence, event_id, event_type, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5, now())`,
			stream, seq, id, e.Metadata.EventType, e.Payload); err != nil {
			return nil, fmt.Errorf("op=eventstore.AppendTx: insert event: %w", err)
		}
	}
	newLast := sequences[len(sequences)-1]
	if _, err := tx.Exec(ctx, `UPDATE event_stream SET last_sequence = $2 WHERE stream_name = $1`, stream, newLast); err != nil {
		return nil, fmt.Errorf("op=eventstore.AppendTx: update stream header: %w", err)
	}
	return sequences, nil
}

// ReadStream returns all events of stream ordered by sequence ascending.
func (s *EventStore) ReadStream(ctx domain.Context, stream string) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stream_name, sequence, event_id, event_type, payload, created_at
		 FROM events WHERE stream_name = $1 ORDER BY sequence ASC`, stream)
	if err != nil {
		return nil, fmt.Errorf("op=eventstore.ReadStream: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.StreamName, &e.Sequence, &e.ID, &e.Metadata.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=eventstore.ReadStream: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=eventstore.ReadStream: rows: %w", err)
	}
	return out, nil
}

// lockStream takes a row lock on the stream's header, returning -1 if the
// stream has never been appended to.
func lockStream(ctx domain.Context, tx pgx.Tx, stream string) (int64, error) {
	var last int64
	err := tx.QueryRow(ctx, `SELECT last_sequence FROM event_stream WHERE stream_name = $1 FOR UPDATE`, stream).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lock stream: %w", err)
	}
	return last, nil
}

// LockStreamForUpdate is the exported form of lockStream, for callers that
// need to read-decide-append within one hand-rolled transaction instead of
// going through Runtime.Handle (e.g. when a command's outcome must also
// enqueue an outbox row atomically).
func LockStreamForUpdate(ctx domain.Context, tx pgx.Tx, stream string) (int64, error) {
	return lockStream(ctx, tx, stream)
}

// ReadStreamTx is ReadStream scoped to an externally managed transaction.
// Called after LockStreamForUpdate, it observes a consistent snapshot
// because any concurrent appender must acquire the same stream lock before
// inserting further events.
func ReadStreamTx(ctx domain.Context, tx pgx.Tx, stream string) ([]domain.Event, error) {
	rows, err := tx.Query(ctx,
		`SELECT stream_name, sequence, event_id, event_type, payload, created_at
		 FROM events WHERE stream_name = $1 ORDER BY sequence ASC`, stream)
	if err != nil {
		return nil, fmt.Errorf("op=eventstore.ReadStreamTx: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.StreamName, &e.Sequence, &e.ID, &e.Metadata.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=eventstore.ReadStreamTx: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=eventstore.ReadStreamTx: rows: %w", err)
	}
	return out, nil
}

func checkCondition(stream string, condition domain.AppendCondition, last int64) error {
	switch condition.Kind {
	case domain.NoStream:
		if last != -1 {
			return &domain.ErrAppendConditionFailed{Stream: stream, Condition: condition, Actual: last}
		}
	case domain.StreamExists:
		if last == -1 {
			return &domain.ErrAppendConditionFailed{Stream: stream, Condition: condition, Actual: last}
		}
	case domain.ExpectLastSequence:
		if last != condition.ExpectedSequence {
			return &domain.ErrAppendConditionFailed{Stream: stream, Condition: condition, Actual: last}
		}
	}
	return nil
}

// streamTypeOf extracts the aggregate-type prefix of a "type-id" stream name
// for metric cardinality; falls back to the whole name if no separator.
func streamTypeOf(stream string) string {
	for i := 0; i < len(stream); i++ {
		if stream[i] == '-' {
			return stream[:i]
		}
	}
	return stream
}
