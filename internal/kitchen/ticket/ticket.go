// Package ticket implements the Ticket aggregate: the kitchen's view of an
// order's preparation, driven entirely by the Create-Order saga's
// create/confirm/cancel steps. Deeper kitchen domain rules (menu
// management, prep-time estimation) are out of scope; this aggregate only
// carries enough state to participate correctly in the saga.
package ticket

import (
	"encoding/json"
	"fmt"

	"github.com/ftgo/backbone/internal/aggregate"
	"github.com/ftgo/backbone/internal/domain"
	"github.com/ftgo/backbone/internal/orderservice/proxy"
)

// Status is the Ticket aggregate's lifecycle state.
type Status string

const (
	StatusCreatePending Status = "CREATE_PENDING"
	StatusAwaitingAccept Status = "AWAITING_ACCEPTANCE"
	StatusCancelled      Status = "CANCELLED"
)

// State is the folded view of a ticket's stream.
type State struct {
	OrderID      string
	RestaurantID string
	LineItems    []proxy.TicketLineItem
	Status       Status
}

// Command is the sum type this aggregate accepts.
type Command struct {
	Create  *CreateCommand
	Confirm *ConfirmCommand
	Cancel  *CancelCommand
}

// CreateCommand creates a ticket in CREATE_PENDING.
type CreateCommand struct {
	OrderID      string
	RestaurantID string
	LineItems    []proxy.TicketLineItem
}

// ConfirmCommand moves a pending ticket to AWAITING_ACCEPTANCE.
type ConfirmCommand struct{}

// CancelCommand cancels a ticket, the compensation for create-ticket.
type CancelCommand struct{}

// Event is the sum type of events this aggregate produces.
type Event struct {
	Created   *Created   `json:"created,omitempty"`
	Confirmed *Confirmed `json:"confirmed,omitempty"`
	Cancelled *Cancelled `json:"cancelled,omitempty"`
}

// Created is raised when a ticket enters CREATE_PENDING.
type Created struct {
	OrderID      string                 `json:"order_id"`
	RestaurantID string                 `json:"restaurant_id"`
	LineItems    []proxy.TicketLineItem `json:"line_items"`
}

// Confirmed is raised when the kitchen accepts the order for preparation.
type Confirmed struct{}

// Cancelled is raised when the saga compensates a created ticket.
type Cancelled struct{}

const (
	typeCreated   = "TicketCreated"
	typeConfirmed = "TicketConfirmed"
	typeCancelled = "TicketCancelled"
)

// Stream returns the event-stream name for orderID; tickets are keyed by
// order id since a ticket exists in 1:1 correspondence with an order.
func Stream(orderID string) string { return "Ticket-" + orderID }

// Runtime is the bound aggregate.Runtime for tickets.
type Runtime = aggregate.Runtime[State, Command, Event]

// NewRuntime constructs the ticket aggregate.Runtime over store.
func NewRuntime(store domain.EventStore) *Runtime {
	return aggregate.New(store, aggregate.Type[State, Command, Event]{
		Zero:   func() State { return State{} },
		Apply:  apply,
		Decode: Decode,
		Decide: decide,
		Encode: Encode,
	})
}

func apply(s State, e Event) State {
	switch {
	case e.Created != nil:
		s.OrderID = e.Created.OrderID
		s.RestaurantID = e.Created.RestaurantID
		s.LineItems = e.Created.LineItems
		s.Status = StatusCreatePending
	case e.Confirmed != nil:
		s.Status = StatusAwaitingAccept
	case e.Cancelled != nil:
		s.Status = StatusCancelled
	}
	return s
}

func decide(s State, cmd Command) ([]Event, error) {
	switch {
	case cmd.Create != nil:
		if s.Status != "" {
			return nil, fmt.Errorf("op=ticket.decide: %w: ticket already exists", domain.ErrConflict)
		}
		c := cmd.Create
		return []Event{{Created: &Created{OrderID: c.OrderID, RestaurantID: c.RestaurantID, LineItems: c.LineItems}}}, nil

	case cmd.Confirm != nil:
		if s.Status != StatusCreatePending {
			return nil, fmt.Errorf("op=ticket.decide: %w: ticket not pending", domain.ErrConflict)
		}
		return []Event{{Confirmed: &Confirmed{}}}, nil

	case cmd.Cancel != nil:
		if s.Status == StatusCancelled {
			return nil, nil
		}
		return []Event{{Cancelled: &Cancelled{}}}, nil

	default:
		return nil, fmt.Errorf("op=ticket.decide: %w: empty command", domain.ErrInvalidArgument)
	}
}

// Encode picks the populated variant of e and marshals it with its type tag.
func Encode(e Event) (string, []byte, error) {
	switch {
	case e.Created != nil:
		b, err := json.Marshal(e.Created)
		return typeCreated, b, err
	case e.Confirmed != nil:
		b, err := json.Marshal(e.Confirmed)
		return typeConfirmed, b, err
	case e.Cancelled != nil:
		b, err := json.Marshal(e.Cancelled)
		return typeCancelled, b, err
	default:
		return "", nil, fmt.Errorf("op=ticket.Encode: empty event")
	}
}

// Decode reverses Encode.
func Decode(eventType string, payload []byte) (Event, error) {
	var e Event
	var err error
	switch eventType {
	case typeCreated:
		e.Created = &Created{}
		err = json.Unmarshal(payload, e.Created)
	case typeConfirmed:
		e.Confirmed = &Confirmed{}
		err = json.Unmarshal(payload, e.Confirmed)
	case typeCancelled:
		e.Cancelled = &Cancelled{}
		err = json.Unmarshal(payload, e.Cancelled)
	default:
		return Event{}, fmt.Errorf("op=ticket.Decode: unknown event type %q", eventType)
	}
	if err != nil {
		return Event{}, fmt.Errorf("op=ticket.Decode: %w", err)
	}
	return e, nil
}
