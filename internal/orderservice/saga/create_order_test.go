package saga

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// TestDefinition_CompensationsAttachToReachableSteps guards against wiring a
// compensation onto a step the coordinator's backward walk can never reach.
// The walk starts one index before the step whose forward action failed and
// proceeds toward zero, so only the create-order step (index 0) is
// guaranteed to be visited on every rollback; that is where the
// whole-saga "reject order" undo must live, not on the last step.
func TestDefinition_CompensationsAttachToReachableSteps(t *testing.T) {
	def := Definition()
	require.Len(t, def.Steps, 6)

	require.Equal(t, "create-order", def.Steps[0].Name)
	require.NotNil(t, def.Steps[0].Compensate, "the virtual reject-order undo must live on the first step")

	require.Equal(t, "reserve-credit", def.Steps[2].Name)
	require.NotNil(t, def.Steps[2].Compensate, "reserved credit must be released on rollback")

	require.Equal(t, "approve-order", def.Steps[5].Name)
	require.Nil(t, def.Steps[5].Compensate, "approve-order only runs after every remote step already succeeded")
}

func TestInvokeReserveCredit_BuildsWithdraw(t *testing.T) {
	d := CreateOrderData{AccountID: "a1", OrderID: "o1", OrderTotal: decimal.NewFromInt(25)}
	cmdType, body, err := invokeReserveCredit(d)
	require.NoError(t, err)
	require.Equal(t, "WithdrawCommand", cmdType)

	var decoded struct {
		AccountID string          `json:"account_id"`
		Amount    decimal.Decimal `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "a1", decoded.AccountID)
	require.True(t, decoded.Amount.Equal(decimal.NewFromInt(25)))
}

func TestCompensateReserveCredit_BuildsDepositForSameAmount(t *testing.T) {
	d := CreateOrderData{AccountID: "a1", OrderID: "o1", OrderTotal: decimal.NewFromInt(25)}
	cmdType, body, err := compensateReserveCredit(d)
	require.NoError(t, err)
	require.Equal(t, "DepositCommand", cmdType)

	var decoded struct {
		AccountID string          `json:"account_id"`
		Amount    decimal.Decimal `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "a1", decoded.AccountID)
	require.True(t, decoded.Amount.Equal(decimal.NewFromInt(25)))
}

func TestCompensateRejectOrder_CarriesOrderID(t *testing.T) {
	cmdType, body, err := compensateRejectOrder(CreateOrderData{OrderID: "o1"})
	require.NoError(t, err)
	require.Equal(t, "RejectOrderLocal", cmdType)

	var decoded struct {
		OrderID string `json:"order_id"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "o1", decoded.OrderID)
	require.NotEmpty(t, decoded.Reason)
}
