package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	sagapg "github.com/ftgo/backbone/internal/saga/postgres"
)

// StuckSagaSweeper periodically scans for non-terminal saga instances that
// have not advanced in longer than maxAge: a reply that never arrived, or a
// participant that silently dropped a command. It never mutates an
// instance; a stuck saga gets surfaced for a human to inspect (the saga
// invariants give it no other way out of a missing reply), not auto-failed
// the way a stuck CV job would be.
type StuckSagaSweeper struct {
	sagas    *sagapg.Repository
	maxAge   time.Duration
	interval time.Duration
}

// NewStuckSagaSweeper constructs a sweeper over sagas, checking every
// interval for instances idle longer than maxAge.
func NewStuckSagaSweeper(sagas *sagapg.Repository, maxAge, interval time.Duration) *StuckSagaSweeper {
	if sagas == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckSagaSweeper{sagas: sagas, maxAge: maxAge, interval: interval}
}

// Run sweeps once immediately, then on every tick, until ctx is cancelled.
func (s *StuckSagaSweeper) Run(ctx context.Context) {
	if s == nil || s.sagas == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck saga sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckSagaSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("saga.sweeper")
	ctx, span := tracer.Start(ctx, "StuckSagaSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxAge)
	span.SetAttributes(attribute.Float64("saga.max_age_seconds", s.maxAge.Seconds()))

	stuck, err := s.sagas.ListStuck(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck saga sweep failed to list instances", slog.Any("error", err))
		return
	}

	span.SetAttributes(attribute.Int("saga.stuck_count", len(stuck)))
	for _, inst := range stuck {
		slog.Warn("saga instance stuck, no reply received within max age",
			slog.String("saga_type", inst.SagaType),
			slog.String("saga_id", inst.SagaID),
			slog.Int("currently_executing", int(inst.CurrentlyExecuting)),
			slog.Time("updated_at", inst.UpdatedAt),
		)
	}
}
