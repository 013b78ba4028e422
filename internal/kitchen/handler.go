// Package kitchen wires the Ticket aggregate to the bus, following the
// same transactional command-then-reply pattern as internal/accounting.
package kitchen

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	espg "github.com/ftgo/backbone/internal/eventstore/postgres"
	"github.com/ftgo/backbone/internal/domain"
	"github.com/ftgo/backbone/internal/kitchen/ticket"
	obpg "github.com/ftgo/backbone/internal/outbox/postgres"
	"github.com/ftgo/backbone/internal/orderservice/proxy"
)

// Handler processes kitchen commands.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler constructs a Handler over pool.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// HandleCreateTicket creates a ticket for the order and replies success
// unconditionally: kitchen capacity checks are out of scope.
func (h *Handler) HandleCreateTicket(ctx context.Context, envelope domain.CommandEnvelope) error {
	var body proxy.CreateTicketBody
	if err := json.Unmarshal(envelope.Body, &body); err != nil {
		return fmt.Errorf("op=kitchen.HandleCreateTicket: unmarshal: %w", err)
	}
	return h.run(ctx, body.OrderID, envelope, func(s ticket.State) ([]ticket.Event, error) {
		if s.Status != "" {
			// Idempotent redelivery of a create that already landed.
			return nil, nil
		}
		created := ticket.Event{Created: &ticket.Created{
			OrderID: body.OrderID, RestaurantID: body.RestaurantID, LineItems: body.LineItems,
		}}
		return []ticket.Event{created}, nil
	})
}

// HandleConfirmTicket moves a ticket to AWAITING_ACCEPTANCE.
func (h *Handler) HandleConfirmTicket(ctx context.Context, envelope domain.CommandEnvelope) error {
	var body proxy.ConfirmTicketBody
	if err := json.Unmarshal(envelope.Body, &body); err != nil {
		return fmt.Errorf("op=kitchen.HandleConfirmTicket: unmarshal: %w", err)
	}
	return h.run(ctx, body.OrderID, envelope, func(s ticket.State) ([]ticket.Event, error) {
		if s.Status != ticket.StatusCreatePending {
			return nil, nil
		}
		return []ticket.Event{{Confirmed: &ticket.Confirmed{}}}, nil
	})
}

// HandleCancelTicket cancels a ticket, the compensation for create-ticket.
// It always replies success: a compensation that cannot itself fail is
// what keeps the saga's rollback path from getting stuck mid-undo.
func (h *Handler) HandleCancelTicket(ctx context.Context, envelope domain.CommandEnvelope) error {
	var body proxy.CancelTicketBody
	if err := json.Unmarshal(envelope.Body, &body); err != nil {
		return fmt.Errorf("op=kitchen.HandleCancelTicket: unmarshal: %w", err)
	}
	return h.run(ctx, body.OrderID, envelope, func(s ticket.State) ([]ticket.Event, error) {
		if s.Status == ticket.StatusCancelled {
			return nil, nil
		}
		return []ticket.Event{{Cancelled: &ticket.Cancelled{}}}, nil
	})
}

func (h *Handler) run(ctx context.Context, orderID string, envelope domain.CommandEnvelope, decide func(ticket.State) ([]ticket.Event, error)) error {
	stream := ticket.Stream(orderID)
	tx, err := h.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	last, err := espg.LockStreamForUpdate(ctx, tx, stream)
	if err != nil {
		return err
	}
	rawEvents, err := espg.ReadStreamTx(ctx, tx, stream)
	if err != nil {
		return err
	}
	state := ticket.State{}
	for _, re := range rawEvents {
		decoded, err := ticket.Decode(re.Metadata.EventType, re.Payload)
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		state = applyTicket(state, decoded)
	}

	events, err := decide(state)
	if err != nil {
		return err
	}

	if len(events) > 0 {
		newEvents := make([]domain.NewEvent, len(events))
		for i, e := range events {
			eventType, payload, err := ticket.Encode(e)
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}
			newEvents[i] = domain.NewEvent{Metadata: domain.EventMetadata{EventType: eventType}, Payload: payload}
		}
		condition := domain.ExpectSequence(last)
		if last == -1 {
			condition = domain.ExpectNoStream()
		}
		if _, err := espg.AppendTx(ctx, tx, stream, newEvents, condition); err != nil {
			return err
		}
	}

	if envelope.Headers.SagaID != "" {
		reply := domain.ReplyEnvelope{Headers: envelope.Headers, Succeed: true}
		payload, err := json.Marshal(reply)
		if err != nil {
			return fmt.Errorf("marshal reply: %w", err)
		}
		if err := obpg.EnqueueTx(ctx, tx, envelope.ReplyChannel, envelope.Headers.SagaID, payload); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func applyTicket(s ticket.State, e ticket.Event) ticket.State {
	switch {
	case e.Created != nil:
		s.OrderID = e.Created.OrderID
		s.RestaurantID = e.Created.RestaurantID
		s.LineItems = e.Created.LineItems
		s.Status = ticket.StatusCreatePending
	case e.Confirmed != nil:
		s.Status = ticket.StatusAwaitingAccept
	case e.Cancelled != nil:
		s.Status = ticket.StatusCancelled
	}
	return s
}
