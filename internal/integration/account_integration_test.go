//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ftgo/backbone/internal/accounting"
	"github.com/ftgo/backbone/internal/accounting/account"
	accountprojection "github.com/ftgo/backbone/internal/accounting/projection"
	ckpg "github.com/ftgo/backbone/internal/checkpoint/postgres"
	"github.com/ftgo/backbone/internal/domain"
	espg "github.com/ftgo/backbone/internal/eventstore/postgres"
	"github.com/ftgo/backbone/internal/projection"
)

// TestAccount_WithdrawOverdraftRejection exercises the accounting
// participant's withdraw rule directly, ahead of any saga wiring:
// withdrawing more than the balance covers is rejected rather than
// overdrawing, and a reply row lands in the outbox for each attempt.
func TestAccount_WithdrawOverdraftRejection(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	store := espg.New(pool)
	runtime := account.NewRuntime(store)
	accountID := uuid.NewString()
	stream := account.Stream(accountID)

	_, _, err := runtime.Handle(ctx, stream, account.Command{Open: &account.OpenCommand{AccountID: accountID}})
	require.NoError(t, err)
	_, _, err = runtime.Handle(ctx, stream, account.Command{
		Deposit: &account.DepositCommand{AccountID: accountID, Amount: decimal.NewFromInt(100)},
	})
	require.NoError(t, err)

	handler := accounting.NewHandler(pool)
	withdraw := func(orderID string, amount decimal.Decimal) {
		body, err := json.Marshal(accounting.WithdrawCommand{AccountID: accountID, Amount: amount})
		require.NoError(t, err)
		envelope := domain.CommandEnvelope{
			Headers:      domain.Headers{SagaType: "create-order", SagaID: orderID, RequestID: uuid.NewString()},
			ReplyChannel: "create-order-saga-replies",
			Type:         "WithdrawCommand",
			Body:         body,
		}
		require.NoError(t, handler.Handle(ctx, envelope))
	}

	withdraw("order-1", decimal.NewFromInt(60))
	withdraw("order-2", decimal.NewFromInt(50)) // only 40 left: must be rejected, not overdraw

	state, _, err := runtime.Load(ctx, stream)
	require.NoError(t, err)
	require.True(t, state.Balance.Equal(decimal.NewFromInt(40)), "rejected withdrawal must not move the balance")

	var outboxCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE topic = 'create-order-saga-replies'`).Scan(&outboxCount))
	require.Equal(t, 2, outboxCount, "both the accepted and the rejected withdrawal enqueue a saga reply")
}

// TestAccountProjections_AreIdempotentUnderRedelivery runs both Account
// projections twice over the same backlog, the way redelivery after a
// crash would: the checkpoint advance in the same transaction as each
// read-model write must make the second run a no-op rather than
// double-counting the balance or the deposit/withdraw tallies.
func TestAccountProjections_AreIdempotentUnderRedelivery(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	store := espg.New(pool)
	runtime := account.NewRuntime(store)
	accountID := uuid.NewString()
	stream := account.Stream(accountID)

	_, _, err := runtime.Handle(ctx, stream, account.Command{Open: &account.OpenCommand{AccountID: accountID}})
	require.NoError(t, err)

	handler := accounting.NewHandler(pool)
	body, err := json.Marshal(accounting.DepositCommand{AccountID: accountID, Amount: decimal.NewFromInt(75)})
	require.NoError(t, err)
	require.NoError(t, handler.Handle(ctx, domain.CommandEnvelope{
		Headers:      domain.Headers{SagaType: "create-order", SagaID: "order-1", RequestID: uuid.NewString()},
		ReplyChannel: "create-order-saga-replies",
		Type:         "DepositCommand",
		Body:         body,
	}))

	checkpoints := ckpg.New(pool)
	detailsRunner := projection.New(pool, checkpoints, accountprojection.DetailsSubscriptionID, "Account", accountprojection.ApplyAccountDetails, 20*time.Millisecond)
	infosRunner := projection.New(pool, checkpoints, accountprojection.InfosSubscriptionID, "Account", accountprojection.ApplyAccountInfos, 20*time.Millisecond)

	runOnce := func(r *projection.Runtime) {
		runCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
		defer cancel()
		_ = r.Run(runCtx)
	}

	runOnce(detailsRunner)
	runOnce(infosRunner)

	var balance decimal.Decimal
	require.NoError(t, pool.QueryRow(ctx, `SELECT balance FROM account_details WHERE account_id = $1`, accountID).Scan(&balance))
	require.True(t, balance.Equal(decimal.NewFromInt(75)))

	var depositTotal decimal.Decimal
	var depositCount int64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT deposit_total, deposit_count FROM account_infos WHERE account_id = $1`, accountID).Scan(&depositTotal, &depositCount))
	require.True(t, depositTotal.Equal(decimal.NewFromInt(75)))
	require.Equal(t, int64(1), depositCount)

	runOnce(detailsRunner) // redelivery simulation: nothing left after the checkpoint, must not double-apply
	runOnce(infosRunner)

	require.NoError(t, pool.QueryRow(ctx, `SELECT balance FROM account_details WHERE account_id = $1`, accountID).Scan(&balance))
	require.True(t, balance.Equal(decimal.NewFromInt(75)), "second drain over an already-checkpointed backlog must not re-credit")

	require.NoError(t, pool.QueryRow(ctx,
		`SELECT deposit_total, deposit_count FROM account_infos WHERE account_id = $1`, accountID).Scan(&depositTotal, &depositCount))
	require.True(t, depositTotal.Equal(decimal.NewFromInt(75)))
	require.Equal(t, int64(1), depositCount, "second drain must not double-count the deposit")
}
