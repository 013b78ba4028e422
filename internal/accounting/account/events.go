// Package account implements the Account aggregate: the accounting
// participant of the Create-Order saga, holding a customer's balance and
// deciding whether a withdrawal is covered by it.
package account

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Event is the sum type of every event this aggregate can produce. Exactly
// one field is non-nil; Reply is the CommandReplyRequested variant used to
// route a saga reply through the outbox alongside the domain event that
// caused it.
type Event struct {
	Opened    *Opened    `json:"opened,omitempty"`
	Deposited *Deposited `json:"deposited,omitempty"`
	Withdrawn *Withdrawn `json:"withdrawn,omitempty"`
	Reply     *Reply     `json:"reply,omitempty"`
}

// Opened is raised when a new account is created with a zero balance.
type Opened struct {
	AccountID string `json:"account_id"`
}

// Deposited is raised when funds are added to the account.
type Deposited struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// Withdrawn is raised when funds are removed from the account. It is only
// ever produced when the withdrawal amount does not exceed the balance at
// decision time; an over-balance withdrawal produces no domain event.
type Withdrawn struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// Reply carries the saga correlation headers and outcome to be delivered
// to a saga's reply channel atomically with the domain event above. See
// the meta-event pattern in the system overview.
type Reply struct {
	SagaType     string `json:"saga_type"`
	SagaID       string `json:"saga_id"`
	RequestID    string `json:"request_id"`
	ReplyChannel string `json:"reply_channel"`
	Succeed      bool   `json:"succeed"`
	Body         []byte `json:"body"`
}

const (
	typeOpened    = "AccountOpened"
	typeDeposited = "AccountDeposited"
	typeWithdrawn = "AccountWithdrawn"
	typeReply     = "CommandReplyRequested"
)

// Encode picks the populated variant of e and marshals it with its type tag.
func Encode(e Event) (string, []byte, error) {
	switch {
	case e.Opened != nil:
		b, err := json.Marshal(e.Opened)
		return typeOpened, b, err
	case e.Deposited != nil:
		b, err := json.Marshal(e.Deposited)
		return typeDeposited, b, err
	case e.Withdrawn != nil:
		b, err := json.Marshal(e.Withdrawn)
		return typeWithdrawn, b, err
	case e.Reply != nil:
		b, err := json.Marshal(e.Reply)
		return typeReply, b, err
	default:
		return "", nil, fmt.Errorf("op=account.Encode: empty event")
	}
}

// Decode reverses Encode.
func Decode(eventType string, payload []byte) (Event, error) {
	var e Event
	var err error
	switch eventType {
	case typeOpened:
		e.Opened = &Opened{}
		err = json.Unmarshal(payload, e.Opened)
	case typeDeposited:
		e.Deposited = &Deposited{}
		err = json.Unmarshal(payload, e.Deposited)
	case typeWithdrawn:
		e.Withdrawn = &Withdrawn{}
		err = json.Unmarshal(payload, e.Withdrawn)
	case typeReply:
		e.Reply = &Reply{}
		err = json.Unmarshal(payload, e.Reply)
	default:
		return Event{}, fmt.Errorf("op=account.Decode: unknown event type %q", eventType)
	}
	if err != nil {
		return Event{}, fmt.Errorf("op=account.Decode: %w", err)
	}
	return e, nil
}
