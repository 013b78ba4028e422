package projection

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ftgo/backbone/internal/accounting/account"
	"github.com/ftgo/backbone/internal/domain"
)

// InfosSubscriptionID names the AccountInfos projection's checkpoint. It is
// independent of DetailsSubscriptionID so either read model can be rebuilt
// from scratch without touching the other.
const InfosSubscriptionID = "accounting-account-infos"

// ApplyAccountInfos upserts the account_infos read table, tallying deposit
// and withdrawal activity per account. CommandReplyRequested events carry
// no balance information and are ignored.
func ApplyAccountInfos(ctx context.Context, tx pgx.Tx, event domain.Event) error {
	e, err := account.Decode(event.Metadata.EventType, event.Payload)
	if err != nil {
		return fmt.Errorf("op=projection.ApplyAccountInfos: %w", err)
	}

	switch {
	case e.Opened != nil:
		if _, err := tx.Exec(ctx, `
			INSERT INTO account_infos (account_id, deposit_total, deposit_count, withdraw_total, withdraw_count)
			VALUES ($1, 0, 0, 0, 0)
			ON CONFLICT (account_id) DO NOTHING`,
			e.Opened.AccountID); err != nil {
			return fmt.Errorf("op=projection.ApplyAccountInfos: insert: %w", err)
		}
	case e.Deposited != nil:
		accountID := accountIDFromStream(event.StreamName)
		if _, err := tx.Exec(ctx, `
			UPDATE account_infos
			SET deposit_total = deposit_total + $2, deposit_count = deposit_count + 1
			WHERE account_id = $1`,
			accountID, e.Deposited.Amount); err != nil {
			return fmt.Errorf("op=projection.ApplyAccountInfos: deposit update: %w", err)
		}
	case e.Withdrawn != nil:
		accountID := accountIDFromStream(event.StreamName)
		if _, err := tx.Exec(ctx, `
			UPDATE account_infos
			SET withdraw_total = withdraw_total + $2, withdraw_count = withdraw_count + 1
			WHERE account_id = $1`,
			accountID, e.Withdrawn.Amount); err != nil {
			return fmt.Errorf("op=projection.ApplyAccountInfos: withdraw update: %w", err)
		}
	}
	// Reply (CommandReplyRequested) carries no balance activity and is ignored.
	return nil
}

// AccountInfos is the read-model row returned to callers.
type AccountInfos struct {
	AccountID     string
	DepositTotal  decimal.Decimal
	DepositCount  int64
	WithdrawTotal decimal.Decimal
	WithdrawCount int64
}
