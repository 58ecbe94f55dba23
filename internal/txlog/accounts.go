package txlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Accounts reads cash balances and prior-day portfolio baselines from the
// accounts table. Unknown users value as zero rather than erroring, so a
// snapshot for a user with no account row is an empty portfolio.
type Accounts struct {
	pool *pgxpool.Pool
}

// NewAccounts wraps an established connection pool.
func NewAccounts(pool *pgxpool.Pool) *Accounts {
	return &Accounts{pool: pool}
}

// CashBalance returns the user's settled cash.
func (a *Accounts) CashBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return a.queryAmount(ctx,
		`SELECT cash_balance::text FROM accounts WHERE user_id = $1`, userID)
}

// PriorDayValue returns the user's portfolio value at the prior close.
func (a *Accounts) PriorDayValue(ctx context.Context, userID string) (decimal.Decimal, error) {
	return a.queryAmount(ctx,
		`SELECT prior_day_value::text FROM accounts WHERE user_id = $1`, userID)
}

func (a *Accounts) queryAmount(ctx context.Context, query, userID string) (decimal.Decimal, error) {
	var text string
	err := a.pool.QueryRow(ctx, query, userID).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query account for %s: %w", userID, err)
	}

	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse account amount %q: %w", text, err)
	}
	return amount, nil
}

// ZeroBalances satisfies the valuation engine's balance dependency when no
// database is reachable: every user values as cash-free with a zero baseline.
type ZeroBalances struct{}

func (ZeroBalances) CashBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (ZeroBalances) PriorDayValue(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
