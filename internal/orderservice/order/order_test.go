package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ftgo/backbone/internal/domain"
)

func TestDecide_CreateThenApprove(t *testing.T) {
	s := State{}
	events, err := decide(s, Command{Create: &CreateCommand{
		OrderID: "o1", ConsumerID: "c1", RestaurantID: "r1",
		LineItems: []LineItem{{MenuItemID: "m1", Name: "burger", Quantity: 2, Price: decimal.NewFromInt(5)}},
	}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Created)

	s = apply(s, events[0])
	require.Equal(t, StatusPending, s.Status)
	require.True(t, s.Total().Equal(decimal.NewFromInt(10)))

	events, err = decide(s, Command{Approve: &ApproveCommand{}})
	require.NoError(t, err)
	require.NotNil(t, events[0].Approved)
	s = apply(s, events[0])
	require.Equal(t, StatusApproved, s.Status)
}

func TestDecide_CreateTwiceConflicts(t *testing.T) {
	s := State{}
	events, err := decide(s, Command{Create: &CreateCommand{OrderID: "o1"}})
	require.NoError(t, err)
	s = apply(s, events[0])

	_, err = decide(s, Command{Create: &CreateCommand{OrderID: "o1"}})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestDecide_ApproveNonPendingConflicts(t *testing.T) {
	_, err := decide(State{Status: StatusApproved}, Command{Approve: &ApproveCommand{}})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestDecide_RejectCarriesReason(t *testing.T) {
	events, err := decide(State{Status: StatusPending}, Command{Reject: &RejectCommand{Reason: "no credit"}})
	require.NoError(t, err)
	require.Equal(t, "no credit", events[0].Rejected.Reason)
}

func TestDecide_EmptyCommandIsInvalidArgument(t *testing.T) {
	_, err := decide(State{}, Command{})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	for _, e := range []Event{
		{Created: &Created{OrderID: "o1", LineItems: []LineItem{{MenuItemID: "m1", Quantity: 1, Price: decimal.NewFromInt(3)}}}},
		{Approved: &Approved{}},
		{Rejected: &Rejected{Reason: "x"}},
	} {
		eventType, payload, err := Encode(e)
		require.NoError(t, err)
		decoded, err := Decode(eventType, payload)
		require.NoError(t, err)
		require.Equal(t, e, decoded)
	}
}

func TestDecode_UnknownEventType(t *testing.T) {
	_, err := Decode("NotARealEvent", []byte(`{}`))
	require.Error(t, err)
}
