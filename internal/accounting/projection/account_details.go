// Package projection holds the Accounting service's read models, kept
// current by the Projection Runtime rather than queried from the Account
// aggregate's own stream.
package projection

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ftgo/backbone/internal/accounting/account"
	"github.com/ftgo/backbone/internal/domain"
)

// DetailsSubscriptionID names the AccountDetails projection's checkpoint.
const DetailsSubscriptionID = "accounting-account-details"

// ApplyAccountDetails upserts the account_details read table from one
// Account stream event. It is registered as a projection.Apply callback.
func ApplyAccountDetails(ctx context.Context, tx pgx.Tx, event domain.Event) error {
	e, err := account.Decode(event.Metadata.EventType, event.Payload)
	if err != nil {
		return fmt.Errorf("op=projection.ApplyAccountDetails: %w", err)
	}

	switch {
	case e.Opened != nil:
		if _, err := tx.Exec(ctx, `
			INSERT INTO account_details (account_id, balance)
			VALUES ($1, 0)
			ON CONFLICT (account_id) DO NOTHING`,
			e.Opened.AccountID); err != nil {
			return fmt.Errorf("op=projection.ApplyAccountDetails: insert: %w", err)
		}
	case e.Deposited != nil:
		accountID := accountIDFromStream(event.StreamName)
		if _, err := tx.Exec(ctx, `
			UPDATE account_details SET balance = balance + $2 WHERE account_id = $1`,
			accountID, e.Deposited.Amount); err != nil {
			return fmt.Errorf("op=projection.ApplyAccountDetails: deposit update: %w", err)
		}
	case e.Withdrawn != nil:
		accountID := accountIDFromStream(event.StreamName)
		if _, err := tx.Exec(ctx, `
			UPDATE account_details SET balance = balance - $2 WHERE account_id = $1`,
			accountID, e.Withdrawn.Amount); err != nil {
			return fmt.Errorf("op=projection.ApplyAccountDetails: withdraw update: %w", err)
		}
	}
	return nil
}

// AccountDetails is the read-model row returned to callers.
type AccountDetails struct {
	AccountID string
	Balance   decimal.Decimal
}

func accountIDFromStream(stream string) string {
	const prefix = "Account-"
	if len(stream) > len(prefix) {
		return stream[len(prefix):]
	}
	return stream
}
