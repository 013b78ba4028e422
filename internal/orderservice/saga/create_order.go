// Package saga defines the order service's saga orchestrations. CreateOrder
// is the system's worked saga example: it walks an order from PENDING to
// APPROVED or REJECTED across three participants (consumer, accounting,
// kitchen) plus the order service's own two local steps.
package saga

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	backbonesaga "github.com/ftgo/backbone/internal/saga"
	"github.com/ftgo/backbone/internal/orderservice/proxy"
)

// CreateOrderData is the saga's accumulator, threaded through every step.
type CreateOrderData struct {
	OrderID      string                 `json:"order_id"`
	ConsumerID   string                 `json:"consumer_id"`
	RestaurantID string                 `json:"restaurant_id"`
	AccountID    string                 `json:"account_id"`
	LineItems    []proxy.TicketLineItem `json:"line_items"`
	OrderTotal   decimal.Decimal        `json:"order_total"`
	RejectReason string                 `json:"reject_reason"`
}

// CreateOrderType names this saga for correlation headers and metrics.
const CreateOrderType = "CreateOrder"

// ReplyTopic is the topic every Create-Order saga participant replies to.
const ReplyTopic = "create-order-saga-replies"

// RequestTopic is the topic external callers publish a CreateOrderData on
// to start a new instance of this saga. There is no HTTP gateway in this
// system; a caller (the order service's own API, out of scope here, or a
// test) produces directly to this topic.
const RequestTopic = "create-order-requests"

// orderLocalTopic is the pseudo-participant topic used for the order
// service's own local steps: the saga process itself consumes it so that
// local state changes go through the same reply-correlated dispatch path
// as remote participant steps.
const orderLocalTopic = "order-local"

// Definition builds the six-step Create-Order saga: create order (local),
// verify consumer, reserve credit, create ticket, confirm ticket, approve
// order (local). compensateRejectOrder lives on the create-order step
// (index 0) because the coordinator's backward walk always reaches the
// start of the chain on rollback, and a virtual "reject order" undo for the
// whole saga must fire on every rollback regardless of which step failed.
// reserve-credit and create-ticket are the only steps with real per-step
// compensations; verify-consumer has none because a failed verification
// never produces a state change to undo, and approve-order has none
// because it only runs after every remote step already succeeded.
func Definition() backbonesaga.Definition[CreateOrderData] {
	return backbonesaga.Definition[CreateOrderData]{
		Type: CreateOrderType,
		Steps: []backbonesaga.Step[CreateOrderData]{
			{
				Name:        "create-order",
				Participant: orderLocalTopic,
				Invoke:      invokeCreateOrder,
				Compensate:  compensateRejectOrder,
			},
			{
				Name:        "verify-consumer",
				Participant: proxy.ConsumerCommandTopic,
				Invoke:      invokeVerifyConsumer,
			},
			{
				Name:        "reserve-credit",
				Participant: proxy.AccountingCommandTopic,
				Invoke:      invokeReserveCredit,
				Compensate:  compensateReserveCredit,
			},
			{
				Name:        "create-ticket",
				Participant: proxy.KitchenCommandTopic,
				Invoke:      invokeCreateTicket,
				Compensate:  compensateCreateTicket,
			},
			{
				Name:        "confirm-ticket",
				Participant: proxy.KitchenCommandTopic,
				Invoke:      invokeConfirmTicket,
			},
			{
				Name:        "approve-order",
				Participant: orderLocalTopic,
				Invoke:      invokeApproveOrder,
			},
		},
	}
}

func invokeCreateOrder(d CreateOrderData) (string, []byte, error) {
	b, err := json.Marshal(d)
	return "CreateOrderLocal", b, err
}

func invokeVerifyConsumer(d CreateOrderData) (string, []byte, error) {
	return proxy.BuildVerifyConsumer(d.ConsumerID, d.OrderID)
}

func invokeReserveCredit(d CreateOrderData) (string, []byte, error) {
	return proxy.BuildWithdraw(d.AccountID, d.OrderID, d.OrderTotal)
}

func compensateReserveCredit(d CreateOrderData) (string, []byte, error) {
	return proxy.BuildDeposit(d.AccountID, d.OrderID, d.OrderTotal)
}

func invokeCreateTicket(d CreateOrderData) (string, []byte, error) {
	return proxy.BuildCreateTicket(d.RestaurantID, d.OrderID, d.LineItems)
}

func compensateCreateTicket(d CreateOrderData) (string, []byte, error) {
	return proxy.BuildCancelTicket(d.OrderID)
}

func invokeConfirmTicket(d CreateOrderData) (string, []byte, error) {
	return proxy.BuildConfirmTicket(d.OrderID)
}

func invokeApproveOrder(d CreateOrderData) (string, []byte, error) {
	return "ApproveOrderLocal", nil, nil
}

func compensateRejectOrder(d CreateOrderData) (string, []byte, error) {
	b, err := json.Marshal(struct {
		OrderID string `json:"order_id"`
		Reason  string `json:"reason"`
	}{OrderID: d.OrderID, Reason: "saga compensated"})
	return "RejectOrderLocal", b, err
}

// Decode and Encode satisfy the saga.Coordinator's generic data codec.
func Decode(b []byte) (CreateOrderData, error) {
	var d CreateOrderData
	if err := json.Unmarshal(b, &d); err != nil {
		return CreateOrderData{}, fmt.Errorf("op=createorder.Decode: %w", err)
	}
	return d, nil
}

// Encode marshals d for durable storage on the saga instance.
func Encode(d CreateOrderData) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("op=createorder.Encode: %w", err)
	}
	return b, nil
}
