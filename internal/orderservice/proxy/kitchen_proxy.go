package proxy

import (
	"encoding/json"
	"fmt"
)

// KitchenCommandTopic is the command topic the kitchen service consumes.
const KitchenCommandTopic = "kitchen-commands"

const (
	cmdCreateTicket = "CreateTicketCommand"
	cmdCancelTicket = "CancelTicketCommand"
	cmdConfirmTicket = "ConfirmCreateTicketCommand"
)

// CreateTicketBody is the wire shape of a create-ticket command.
type CreateTicketBody struct {
	RestaurantID string           `json:"restaurant_id"`
	OrderID      string           `json:"order_id"`
	LineItems    []TicketLineItem `json:"line_items"`
}

// TicketLineItem is one item the kitchen must prepare.
type TicketLineItem struct {
	MenuItemID string `json:"menu_item_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
}

// CancelTicketBody is the wire shape of a cancel-ticket compensation.
type CancelTicketBody struct {
	OrderID string `json:"order_id"`
}

// ConfirmTicketBody is the wire shape of a confirm-create-ticket command,
// sent once the order's credit has been authorized.
type ConfirmTicketBody struct {
	OrderID string `json:"order_id"`
}

// BuildCreateTicket marshals a create-ticket command body.
func BuildCreateTicket(restaurantID, orderID string, items []TicketLineItem) (string, []byte, error) {
	b, err := json.Marshal(CreateTicketBody{RestaurantID: restaurantID, OrderID: orderID, LineItems: items})
	if err != nil {
		return "", nil, fmt.Errorf("op=proxy.BuildCreateTicket: %w", err)
	}
	return cmdCreateTicket, b, nil
}

// BuildCancelTicket marshals a cancel-ticket compensation body.
func BuildCancelTicket(orderID string) (string, []byte, error) {
	b, err := json.Marshal(CancelTicketBody{OrderID: orderID})
	if err != nil {
		return "", nil, fmt.Errorf("op=proxy.BuildCancelTicket: %w", err)
	}
	return cmdCancelTicket, b, nil
}

// BuildConfirmTicket marshals a confirm-create-ticket command body.
func BuildConfirmTicket(orderID string) (string, []byte, error) {
	b, err := json.Marshal(ConfirmTicketBody{OrderID: orderID})
	if err != nil {
		return "", nil, fmt.Errorf("op=proxy.BuildConfirmTicket: %w", err)
	}
	return cmdConfirmTicket, b, nil
}
