// Package accounting wires the Account aggregate to the bus: decoding
// incoming commands, running them transactionally against the aggregate's
// stream, and enqueueing the saga reply carried by a CommandReplyRequested
// event in the one transaction that also advances the stream, so the
// caller's effects are atomic. Domain events are appended to the stream
// only; they are not enqueued to the outbox. A deposit carries a reply only
// when the command has saga headers; a withdrawal always carries one.
package accounting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ftgo/backbone/internal/accounting/account"
	"github.com/ftgo/backbone/internal/domain"
	espg "github.com/ftgo/backbone/internal/eventstore/postgres"
	obpg "github.com/ftgo/backbone/internal/outbox/postgres"
)

// DepositCommand is the wire shape of a deposit-request command sent to
// the account command topic.
type DepositCommand struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// WithdrawCommand is the wire shape of a withdraw-request command sent to
// the account command topic.
type WithdrawCommand struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

const (
	typeDepositCommand  = "DepositCommand"
	typeWithdrawCommand = "WithdrawCommand"
)

// Handler processes account commands.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler constructs a Handler over pool.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// Handle dispatches an incoming account command envelope by its Type.
func (h *Handler) Handle(ctx context.Context, envelope domain.CommandEnvelope) error {
	switch envelope.Type {
	case typeDepositCommand:
		var cmd DepositCommand
		if err := json.Unmarshal(envelope.Body, &cmd); err != nil {
			return fmt.Errorf("op=accounting.Handle: unmarshal deposit: %w", err)
		}
		return h.run(ctx, cmd.AccountID, envelope, func(s account.State) ([]account.Event, error) {
			return decideDeposit(s, cmd, envelope)
		})
	case typeWithdrawCommand:
		var cmd WithdrawCommand
		if err := json.Unmarshal(envelope.Body, &cmd); err != nil {
			return fmt.Errorf("op=accounting.Handle: unmarshal withdraw: %w", err)
		}
		return h.run(ctx, cmd.AccountID, envelope, func(s account.State) ([]account.Event, error) {
			return decideWithdraw(s, cmd, envelope)
		})
	default:
		return fmt.Errorf("op=accounting.Handle: %w: unknown command type %q", domain.ErrInvalidArgument, envelope.Type)
	}
}

// run folds accountID's stream, applies decide, and appends the resulting
// events together with any reply in a single transaction.
func (h *Handler) run(ctx context.Context, accountID string, envelope domain.CommandEnvelope, decide func(account.State) ([]account.Event, error)) error {
	stream := account.Stream(accountID)
	tx, err := h.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=accounting.run: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	last, err := espg.LockStreamForUpdate(ctx, tx, stream)
	if err != nil {
		return fmt.Errorf("op=accounting.run: %w", err)
	}
	rawEvents, err := espg.ReadStreamTx(ctx, tx, stream)
	if err != nil {
		return fmt.Errorf("op=accounting.run: %w", err)
	}

	state := account.State{}
	for _, re := range rawEvents {
		decoded, err := account.Decode(re.Metadata.EventType, re.Payload)
		if err != nil {
			return fmt.Errorf("op=accounting.run: decode: %w", err)
		}
		state = applyAccount(state, decoded)
	}

	events, err := decide(state)
	if err != nil {
		return fmt.Errorf("op=accounting.run: %w", err)
	}

	newEvents := make([]domain.NewEvent, len(events))
	for i, e := range events {
		eventType, payload, err := account.Encode(e)
		if err != nil {
			return fmt.Errorf("op=accounting.run: encode: %w", err)
		}
		newEvents[i] = domain.NewEvent{Metadata: domain.EventMetadata{EventType: eventType}, Payload: payload}
	}

	condition := domain.ExpectSequence(last)
	if _, err := espg.AppendTx(ctx, tx, stream, newEvents, condition); err != nil {
		return fmt.Errorf("op=accounting.run: %w", err)
	}

	for _, e := range events {
		if e.Reply == nil {
			continue
		}
		reply := domain.ReplyEnvelope{
			Headers: domain.Headers{SagaType: e.Reply.SagaType, SagaID: e.Reply.SagaID, RequestID: e.Reply.RequestID},
			Succeed: e.Reply.Succeed,
			Body:    e.Reply.Body,
		}
		payload, err := json.Marshal(reply)
		if err != nil {
			return fmt.Errorf("op=accounting.run: marshal reply: %w", err)
		}
		if err := obpg.EnqueueTx(ctx, tx, e.Reply.ReplyChannel, e.Reply.SagaID, payload); err != nil {
			return fmt.Errorf("op=accounting.run: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=accounting.run: commit: %w", err)
	}
	return nil
}

func applyAccount(s account.State, e account.Event) account.State {
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
	return s
}

func decideDeposit(s account.State, cmd DepositCommand, envelope domain.CommandEnvelope) ([]account.Event, error) {
	if !s.Opened {
		return nil, fmt.Errorf("%w: account %s not open", domain.ErrInvalidArgument, cmd.AccountID)
	}
	events := []account.Event{
		{Deposited: &account.Deposited{AccountID: cmd.AccountID, Amount: cmd.Amount, Description: cmd.Description}},
	}
	if headers := envelope.Headers; headers.SagaType != "" {
		events = append(events, account.Event{Reply: &account.Reply{
			SagaType: headers.SagaType, SagaID: headers.SagaID, RequestID: headers.RequestID,
			ReplyChannel: envelope.ReplyChannel, Succeed: true,
		}})
	}
	return events, nil
}

// decideWithdraw implements the withdraw decision rule: the event is only
// emitted when amount does not exceed the balance. An over-balance
// withdrawal still reports failure to the saga via the reply meta-event,
// but appends no domain event.
func decideWithdraw(s account.State, cmd WithdrawCommand, envelope domain.CommandEnvelope) ([]account.Event, error) {
	if !s.Opened {
		return nil, fmt.Errorf("%w: account %s not open", domain.ErrInvalidArgument, cmd.AccountID)
	}
	headers := envelope.Headers
	if cmd.Amount.GreaterThan(s.Balance) {
		return []account.Event{
			{Reply: &account.Reply{
				SagaType: headers.SagaType, SagaID: headers.SagaID, RequestID: headers.RequestID,
				ReplyChannel: envelope.ReplyChannel, Succeed: false,
			}},
		}, nil
	}
	return []account.Event{
		{Withdrawn: &account.Withdrawn{AccountID: cmd.AccountID, Amount: cmd.Amount, Description: cmd.Description}},
		{Reply: &account.Reply{
			SagaType: headers.SagaType, SagaID: headers.SagaID, RequestID: headers.RequestID,
			ReplyChannel: envelope.ReplyChannel, Succeed: true,
		}},
	}, nil
}
