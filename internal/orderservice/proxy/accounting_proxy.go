// Package proxy defines, for each saga participant, the command topic it
// listens on and the JSON wire shape of the commands the Create-Order
// saga sends it. Each proxy is a pure builder: no network code lives here,
// only the envelope shapes the saga coordinator marshals into outbox rows.
package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// AccountingCommandTopic is the command topic the accounting service consumes.
const AccountingCommandTopic = "accounting-commands"

const (
	cmdWithdraw = "WithdrawCommand"
	cmdDeposit  = "DepositCommand"
)

// WithdrawBody is the wire shape of a withdraw-request command.
type WithdrawBody struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// BuildWithdraw marshals a withdraw-request command body for reserving an
// order's credit against the consumer's account.
func BuildWithdraw(accountID, orderID string, amount decimal.Decimal) (string, []byte, error) {
	b, err := json.Marshal(WithdrawBody{
		AccountID: accountID, Amount: amount, Description: "order " + orderID,
	})
	if err != nil {
		return "", nil, fmt.Errorf("op=proxy.BuildWithdraw: %w", err)
	}
	return cmdWithdraw, b, nil
}

// DepositBody is the wire shape of a deposit-request command.
type DepositBody struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// BuildDeposit marshals a deposit-request command body, used to release a
// reserved withdrawal back to the consumer's account when a later saga
// step compensates.
func BuildDeposit(accountID, orderID string, amount decimal.Decimal) (string, []byte, error) {
	b, err := json.Marshal(DepositBody{
		AccountID: accountID, Amount: amount, Description: "release for order " + orderID,
	})
	if err != nil {
		return "", nil, fmt.Errorf("op=proxy.BuildDeposit: %w", err)
	}
	return cmdDeposit, b, nil
}
