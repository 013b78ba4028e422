// Package order implements the Order aggregate: the object the
// Create-Order saga drives through PENDING -> APPROVED or REJECTED. Its
// own two local steps (create, approve/reject) are dispatched through the
// order service's local topic like any participant step; rejecting the
// order is the create step's compensation.
package order

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ftgo/backbone/internal/aggregate"
	"github.com/ftgo/backbone/internal/domain"
)

// Status is the Order aggregate's lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// LineItem is one item of an order.
type LineItem struct {
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
}

// State is the folded view of an order's stream.
type State struct {
	OrderID      string
	ConsumerID   string
	RestaurantID string
	LineItems    []LineItem
	Status       Status
}

// Total returns the sum of line item price*quantity.
func (s State) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range s.LineItems {
		total = total.Add(li.Price.Mul(decimal.NewFromInt(int64(li.Quantity))))
	}
	return total
}

// Command is the sum type this aggregate accepts.
type Command struct {
	Create  *CreateCommand
	Approve *ApproveCommand
	Reject  *RejectCommand
}

// CreateCommand creates a new pending order.
type CreateCommand struct {
	OrderID      string
	ConsumerID   string
	RestaurantID string
	LineItems    []LineItem
}

// ApproveCommand approves a pending order.
type ApproveCommand struct{}

// RejectCommand rejects a pending order with a reason.
type RejectCommand struct {
	Reason string
}

// Event is the sum type of events this aggregate produces.
type Event struct {
	Created  *Created  `json:"created,omitempty"`
	Approved *Approved `json:"approved,omitempty"`
	Rejected *Rejected `json:"rejected,omitempty"`
}

// Created is raised when an order enters PENDING.
type Created struct {
	OrderID      string     `json:"order_id"`
	ConsumerID   string     `json:"consumer_id"`
	RestaurantID string     `json:"restaurant_id"`
	LineItems    []LineItem `json:"line_items"`
}

// Approved is raised when the saga completes all forward steps.
type Approved struct{}

// Rejected is raised when any forward step fails.
type Rejected struct {
	Reason string `json:"reason"`
}

const (
	typeCreated  = "OrderCreated"
	typeApproved = "OrderApproved"
	typeRejected = "OrderRejected"
)

// Stream returns the event-stream name for orderID.
func Stream(orderID string) string { return "Order-" + orderID }

// Runtime is the bound aggregate.Runtime for orders.
type Runtime = aggregate.Runtime[State, Command, Event]

// NewRuntime constructs the order aggregate.Runtime over store.
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
		s.ConsumerID = e.Created.ConsumerID
		s.RestaurantID = e.Created.RestaurantID
		s.LineItems = e.Created.LineItems
		s.Status = StatusPending
	case e.Approved != nil:
		s.Status = StatusApproved
	case e.Rejected != nil:
		s.Status = StatusRejected
	}
	return s
}

func decide(s State, cmd Command) ([]Event, error) {
	switch {
	case cmd.Create != nil:
		if s.Status != "" {
			return nil, fmt.Errorf("op=order.decide: %w: order already exists", domain.ErrConflict)
		}
		c := cmd.Create
		return []Event{{Created: &Created{
			OrderID: c.OrderID, ConsumerID: c.ConsumerID, RestaurantID: c.RestaurantID, LineItems: c.LineItems,
		}}}, nil

	case cmd.Approve != nil:
		if s.Status != StatusPending {
			return nil, fmt.Errorf("op=order.decide: %w: order not pending", domain.ErrConflict)
		}
		return []Event{{Approved: &Approved{}}}, nil

	case cmd.Reject != nil:
		if s.Status != StatusPending {
			return nil, fmt.Errorf("op=order.decide: %w: order not pending", domain.ErrConflict)
		}
		return []Event{{Rejected: &Rejected{Reason: cmd.Reject.Reason}}}, nil

	default:
		return nil, fmt.Errorf("op=order.decide: %w: empty command", domain.ErrInvalidArgument)
	}
}

// Encode picks the populated variant of e and marshals it with its type tag.
func Encode(e Event) (string, []byte, error) {
	switch {
	case e.Created != nil:
		b, err := json.Marshal(e.Created)
		return typeCreated, b, err
	case e.Approved != nil:
		b, err := json.Marshal(e.Approved)
		return typeApproved, b, err
	case e.Rejected != nil:
		b, err := json.Marshal(e.Rejected)
		return typeRejected, b, err
	default:
		return "", nil, fmt.Errorf("op=order.Encode: empty event")
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
	case typeApproved:
		e.Approved = &Approved{}
		err = json.Unmarshal(payload, e.Approved)
	case typeRejected:
		e.Rejected = &Rejected{}
		err = json.Unmarshal(payload, e.Rejected)
	default:
		return Event{}, fmt.Errorf("op=order.Decode: unknown event type %q", eventType)
	}
	if err != nil {
		return Event{}, fmt.Errorf("op=order.Decode: %w", err)
	}
	return e, nil
}
