package account

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ftgo/backbone/internal/aggregate"
	"github.com/ftgo/backbone/internal/domain"
)

// State is the folded view of one account's stream: its current balance.
type State struct {
	AccountID string
	Balance   decimal.Decimal
	Opened    bool
}

// Command is the sum type of operations this aggregate accepts through the
// generic aggregate runtime. Deposit and Withdraw are handled separately by
// Handler because a saga-originated withdraw must enqueue a saga reply
// atomically with its append, which the plain Runtime.Handle does not do.
type Command struct {
	Open     *OpenCommand
	Deposit  *DepositCommand
	Withdraw *WithdrawCommand
}

// OpenCommand opens a new account with a zero balance.
type OpenCommand struct {
	AccountID string
}

// DepositCommand adds amount to the account's balance.
type DepositCommand struct {
	AccountID   string
	Amount      decimal.Decimal
	Description string
}

// WithdrawCommand removes amount from the account's balance, provided the
// balance covers it.
type WithdrawCommand struct {
	AccountID   string
	Amount      decimal.Decimal
	Description string
}

// Stream returns the event-stream name for accountID.
func Stream(accountID string) string { return "Account-" + accountID }

// Runtime is the bound aggregate.Runtime for accounts.
type Runtime = aggregate.Runtime[State, Command, Event]

// NewRuntime constructs the account aggregate.Runtime over store.
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
	case e.Opened != nil:
		s.AccountID = e.Opened.AccountID
		s.Balance = decimal.Zero
		s.Opened = true
	case e.Deposited != nil:
		s.Balance = s.Balance.Add(e.Deposited.Amount)
	case e.Withdrawn != nil:
		s.Balance = s.Balance.Sub(e.Withdrawn.Amount)
	}
	// Reply carries no state change for this aggregate.
	return s
}

func decide(s State, cmd Command) ([]Event, error) {
	switch {
	case cmd.Open != nil:
		if s.Opened {
			return nil, fmt.Errorf("op=account.decide: %w: account already open", domain.ErrConflict)
		}
		return []Event{{Opened: &Opened{AccountID: cmd.Open.AccountID}}}, nil
	case cmd.Deposit != nil:
		if !s.Opened {
			return nil, fmt.Errorf("op=account.decide: %w: account not open", domain.ErrInvalidArgument)
		}
		return []Event{{Deposited: &Deposited{
			AccountID: cmd.Deposit.AccountID, Amount: cmd.Deposit.Amount, Description: cmd.Deposit.Description,
		}}}, nil
	case cmd.Withdraw != nil:
		if !s.Opened {
			return nil, fmt.Errorf("op=account.decide: %w: account not open", domain.ErrInvalidArgument)
		}
		if cmd.Withdraw.Amount.GreaterThan(s.Balance) {
			return nil, fmt.Errorf("op=account.decide: %w: insufficient balance", domain.ErrInvalidArgument)
		}
		return []Event{{Withdrawn: &Withdrawn{
			AccountID: cmd.Withdraw.AccountID, Amount: cmd.Withdraw.Amount, Description: cmd.Withdraw.Description,
		}}}, nil
	default:
		return nil, fmt.Errorf("op=account.decide: %w: empty command", domain.ErrInvalidArgument)
	}
}
