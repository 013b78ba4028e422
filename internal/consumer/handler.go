// Package consumer implements the saga-facing slice of the consumer
// service: verifying that a consumer exists and is in good standing
// before an order proceeds. Consumer profile management is out of scope,
// so this is a lookup against a plain table rather than an event-sourced
// aggregate — there is no consumer lifecycle for this system to author
// events about.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ftgo/backbone/internal/domain"
	obpg "github.com/ftgo/backbone/internal/outbox/postgres"
	"github.com/ftgo/backbone/internal/orderservice/proxy"
)

// Handler processes consumer commands.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler constructs a Handler over pool.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// HandleVerify checks consumers.good_standing and replies with the
// outcome. A consumer id absent from the table is treated as verification
// failure rather than an infrastructure error, since the saga has a
// well-defined compensating path for it.
func (h *Handler) HandleVerify(ctx context.Context, envelope domain.CommandEnvelope) error {
	var body proxy.VerifyConsumerBody
	if err := json.Unmarshal(envelope.Body, &body); err != nil {
		return fmt.Errorf("op=consumer.HandleVerify: unmarshal: %w", err)
	}

	tx, err := h.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=consumer.HandleVerify: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var goodStanding bool
	err = tx.QueryRow(ctx, `SELECT good_standing FROM consumers WHERE consumer_id = $1`, body.ConsumerID).Scan(&goodStanding)
	succeed := err == nil && goodStanding

	if envelope.Headers.SagaID != "" {
		reply := domain.ReplyEnvelope{Headers: envelope.Headers, Succeed: succeed}
		payload, merr := json.Marshal(reply)
		if merr != nil {
			return fmt.Errorf("op=consumer.HandleVerify: marshal reply: %w", merr)
		}
		if err := obpg.EnqueueTx(ctx, tx, envelope.ReplyChannel, envelope.Headers.SagaID, payload); err != nil {
			return fmt.Errorf("op=consumer.HandleVerify: %w", err)
		}
	}

	return tx.Commit(ctx)
}
