package account

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ftgo/backbone/internal/domain"
)

func TestDecide_Open(t *testing.T) {
	events, err := decide(State{}, Command{Open: &OpenCommand{AccountID: "a1"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "a1", events[0].Opened.AccountID)

	s := apply(State{}, events[0])
	require.True(t, s.Opened)
	require.True(t, s.Balance.IsZero())
}

func TestDecide_OpenTwiceConflicts(t *testing.T) {
	s := apply(State{}, Event{Opened: &Opened{AccountID: "a1"}})
	_, err := decide(s, Command{Open: &OpenCommand{AccountID: "a1"}})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestDecide_EmptyCommandIsInvalidArgument(t *testing.T) {
	_, err := decide(State{}, Command{})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDecide_DepositBeforeOpenIsInvalidArgument(t *testing.T) {
	_, err := decide(State{}, Command{Deposit: &DepositCommand{AccountID: "a1", Amount: decimal.NewFromInt(10)}})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestApply_DepositIncreasesBalance(t *testing.T) {
	s := apply(State{}, Event{Opened: &Opened{AccountID: "a1"}})
	events, err := decide(s, Command{Deposit: &DepositCommand{AccountID: "a1", Amount: decimal.NewFromInt(100)}})
	require.NoError(t, err)
	s = apply(s, events[0])
	require.True(t, s.Balance.Equal(decimal.NewFromInt(100)))
}

func TestDecide_WithdrawWithinBalanceSucceeds(t *testing.T) {
	s := apply(State{}, Event{Opened: &Opened{AccountID: "a1"}})
	s = apply(s, Event{Deposited: &Deposited{AccountID: "a1", Amount: decimal.NewFromInt(100)}})

	events, err := decide(s, Command{Withdraw: &WithdrawCommand{AccountID: "a1", Amount: decimal.NewFromInt(30)}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Withdrawn)

	s = apply(s, events[0])
	require.True(t, s.Balance.Equal(decimal.NewFromInt(70)))
}

func TestDecide_WithdrawOverBalanceIsRejected(t *testing.T) {
	s := apply(State{}, Event{Opened: &Opened{AccountID: "a1"}})
	s = apply(s, Event{Deposited: &Deposited{AccountID: "a1", Amount: decimal.NewFromInt(10)}})

	_, err := decide(s, Command{Withdraw: &WithdrawCommand{AccountID: "a1", Amount: decimal.NewFromInt(11)}})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDecide_WithdrawExactBalanceSucceeds(t *testing.T) {
	s := apply(State{}, Event{Opened: &Opened{AccountID: "a1"}})
	s = apply(s, Event{Deposited: &Deposited{AccountID: "a1", Amount: decimal.NewFromInt(50)}})

	events, err := decide(s, Command{Withdraw: &WithdrawCommand{AccountID: "a1", Amount: decimal.NewFromInt(50)}})
	require.NoError(t, err)
	s = apply(s, events[0])
	require.True(t, s.Balance.IsZero())
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, e := range []Event{
		{Opened: &Opened{AccountID: "a1"}},
		{Deposited: &Deposited{AccountID: "a1", Amount: decimal.NewFromInt(10), Description: "top-up"}},
		{Withdrawn: &Withdrawn{AccountID: "a1", Amount: decimal.NewFromInt(5), Description: "order o1"}},
		{Reply: &Reply{SagaType: "create-order", SagaID: "s1", RequestID: "r1", ReplyChannel: "ch", Succeed: true}},
	} {
		eventType, payload, err := Encode(e)
		require.NoError(t, err)
		decoded, err := Decode(eventType, payload)
		require.NoError(t, err)
		require.Equal(t, e, decoded)
	}
}
