// Package postgres implements the SagaRepository port: durable storage for
// SagaInstance rows keyed by (saga_type, saga_id).
package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ftgo/backbone/internal/domain"
)

// Repository implements domain.SagaRepository.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository over pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a saga instance, returning domain.ErrNotFound if absent.
func (r *Repository) Get(ctx domain.Context, sagaType, sagaID string) (domain.SagaInstance, error) {
	var inst domain.SagaInstance
	err := r.pool.QueryRow(ctx, `
		SELECT saga_type, saga_id, currently_executing, last_request_id, compensating, end_state, failed, data
		FROM saga_instances WHERE saga_type = $1 AND saga_id = $2`, sagaType, sagaID).Scan(
		&inst.SagaType, &inst.SagaID, &inst.CurrentlyExecuting, &inst.LastRequestID,
		&inst.Compensating, &inst.EndState, &inst.Failed, &inst.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SagaInstance{}, fmt.Errorf("op=saga.Get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.SagaInstance{}, fmt.Errorf("op=saga.Get: %w", err)
	}
	return inst, nil
}

// Save upserts a saga instance, stamping updated_at so stuck sagas can be
// found by age.
func (r *Repository) Save(ctx domain.Context, inst domain.SagaInstance) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO saga_instances (saga_type, saga_id, currently_executing, last_request_id, compensating, end_state, failed, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (saga_type, saga_id) DO UPDATE SET
			currently_executing = EXCLUDED.currently_executing,
			last_request_id = EXCLUDED.last_request_id,
			compensating = EXCLUDED.compensating,
			end_state = EXCLUDED.end_state,
			failed = EXCLUDED.failed,
			data = EXCLUDED.data,
			updated_at = now()`,
		inst.SagaType, inst.SagaID, inst.CurrentlyExecuting, inst.LastRequestID,
		inst.Compensating, inst.EndState, inst.Failed, inst.Data); err != nil {
		return fmt.Errorf("op=saga.Save: %w", err)
	}
	return nil
}

// CountActive returns the number of non-terminal instances of sagaType,
// used for the saga_active gauge.
func (r *Repository) CountActive(ctx domain.Context, sagaType string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM saga_instances WHERE saga_type = $1 AND end_state = false`,
		sagaType).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=saga.CountActive: %w", err)
	}
	return n, nil
}

// StuckInstance identifies a non-terminal saga instance that has not
// progressed in longer than the sweeper's max age, i.e. it is waiting on a
// reply that is never coming.
type StuckInstance struct {
	SagaType           string
	SagaID             string
	CurrentlyExecuting int32
	UpdatedAt          time.Time
}

// ListStuck returns non-terminal instances whose last update is older than
// cutoff, ordered oldest first.
func (r *Repository) ListStuck(ctx domain.Context, cutoff time.Time) ([]StuckInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT saga_type, saga_id, currently_executing, updated_at
		FROM saga_instances
		WHERE end_state = false AND updated_at < $1
		ORDER BY updated_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("op=saga.ListStuck: %w", err)
	}
	defer rows.Close()

	var out []StuckInstance
	for rows.Next() {
		var s StuckInstance
		if err := rows.Scan(&s.SagaType, &s.SagaID, &s.CurrentlyExecuting, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=saga.ListStuck: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=saga.ListStuck: rows: %w", err)
	}
	return out, nil
}
