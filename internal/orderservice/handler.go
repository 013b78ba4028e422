// Package orderservice wires the Order aggregate's two local saga steps
// (create, approve/reject) to the bus as though they were a remote
// participant, so the Create-Order saga dispatches and replies to them
// through the same outbox-and-reply-channel path as every other step.
package orderservice

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	espg "github.com/ftgo/backbone/internal/eventstore/postgres"
	"github.com/ftgo/backbone/internal/domain"
	"github.com/ftgo/backbone/internal/orderservice/order"
	obpg "github.com/ftgo/backbone/internal/outbox/postgres"
	orderedsaga "github.com/ftgo/backbone/internal/orderservice/saga"
)

// LocalTopic is the command topic the order service's own local steps
// dispatch to and consume.
const LocalTopic = "order-local"

// Handler processes the order service's local saga steps.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler constructs a Handler over pool.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// Handle dispatches by envelope.Type to the local step it names.
func (h *Handler) Handle(ctx context.Context, envelope domain.CommandEnvelope) error {
	switch envelope.Type {
	case "CreateOrderLocal":
		return h.handleCreate(ctx, envelope)
	case "ApproveOrderLocal":
		return h.handleTransition(ctx, envelope, order.Command{Approve: &order.ApproveCommand{}})
	case "RejectOrderLocal":
		var body struct {
			OrderID string `json:"order_id"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal(envelope.Body, &body); err != nil {
			return fmt.Errorf("op=orderservice.Handle: unmarshal reject: %w", err)
		}
		return h.handleTransition(ctx, envelope, order.Command{Reject: &order.RejectCommand{Reason: body.Reason}})
	default:
		return fmt.Errorf("op=orderservice.Handle: unknown local step %q", envelope.Type)
	}
}

func (h *Handler) handleCreate(ctx context.Context, envelope domain.CommandEnvelope) error {
	var d orderedsaga.CreateOrderData
	if err := json.Unmarshal(envelope.Body, &d); err != nil {
		return fmt.Errorf("op=orderservice.handleCreate: unmarshal: %w", err)
	}
	lineItems := make([]order.LineItem, len(d.LineItems))
	for i, li := range d.LineItems {
		lineItems[i] = order.LineItem{MenuItemID: li.MenuItemID, Name: li.Name, Quantity: li.Quantity}
	}
	cmd := order.Command{Create: &order.CreateCommand{
		OrderID: d.OrderID, ConsumerID: d.ConsumerID, RestaurantID: d.RestaurantID, LineItems: lineItems,
	}}
	return h.run(ctx, d.OrderID, envelope, cmd)
}

func (h *Handler) handleTransition(ctx context.Context, envelope domain.CommandEnvelope, cmd order.Command) error {
	var body struct {
		OrderID string `json:"order_id"`
	}
	_ = json.Unmarshal(envelope.Body, &body)
	orderID := body.OrderID
	if orderID == "" {
		// ApproveOrderLocal carries no body; the order id travels only in the
		// saga id, which this system also uses as the order id.
		orderID = envelope.Headers.SagaID
	}
	return h.run(ctx, orderID, envelope, cmd)
}

func (h *Handler) run(ctx context.Context, orderID string, envelope domain.CommandEnvelope, cmd order.Command) error {
	stream := order.Stream(orderID)
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
	state := order.State{}
	for _, re := range rawEvents {
		decoded, err := order.Decode(re.Metadata.EventType, re.Payload)
		if err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		state = applyOrder(state, decoded)
	}

	succeed := true
	events, decideErr := decideOrder(state, cmd)
	if decideErr != nil {
		succeed = false
	}

	if len(events) > 0 {
		newEvents := make([]domain.NewEvent, len(events))
		for i, e := range events {
			eventType, payload, err := order.Encode(e)
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
		reply := domain.ReplyEnvelope{Headers: envelope.Headers, Succeed: succeed}
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

func applyOrder(s order.State, e order.Event) order.State {
	switch {
	case e.Created != nil:
		s.OrderID = e.Created.OrderID
		s.ConsumerID = e.Created.ConsumerID
		s.RestaurantID = e.Created.RestaurantID
		s.LineItems = e.Created.LineItems
		s.Status = order.StatusPending
	case e.Approved != nil:
		s.Status = order.StatusApproved
	case e.Rejected != nil:
		s.Status = order.StatusRejected
	}
	return s
}

func decideOrder(s order.State, cmd order.Command) ([]order.Event, error) {
	switch {
	case cmd.Create != nil:
		if s.Status != "" {
			return nil, fmt.Errorf("%w: order already exists", domain.ErrConflict)
		}
		c := cmd.Create
		return []order.Event{{Created: &order.Created{
			OrderID: c.OrderID, ConsumerID: c.ConsumerID, RestaurantID: c.RestaurantID, LineItems: c.LineItems,
		}}}, nil
	case cmd.Approve != nil:
		if s.Status != order.StatusPending {
			return nil, fmt.Errorf("%w: order not pending", domain.ErrConflict)
		}
		return []order.Event{{Approved: &order.Approved{}}}, nil
	case cmd.Reject != nil:
		if s.Status != order.StatusPending {
			return nil, fmt.Errorf("%w: order not pending", domain.ErrConflict)
		}
		return []order.Event{{Rejected: &order.Rejected{Reason: cmd.Reject.Reason}}}, nil
	default:
		return nil, fmt.Errorf("%w: empty command", domain.ErrInvalidArgument)
	}
}
