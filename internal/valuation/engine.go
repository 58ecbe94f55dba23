// Package valuation combines ledger positions with the hub's price cache
// into live portfolio snapshots.
package valuation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jpereira/stockstream/internal/model"
)

// PriceSource supplies the last cached price per symbol (the fan-out hub).
type PriceSource interface {
	LastPrice(symbol string) (model.Tick, bool)
}

// PositionSource supplies a user's open positions (the ledger).
type PositionSource interface {
	PositionsOf(userID string) []model.Position
}

// BalanceStore supplies cash balances and the prior-day portfolio baseline.
// Both live outside this subsystem.
type BalanceStore interface {
	CashBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	PriorDayValue(ctx context.Context, userID string) (decimal.Decimal, error)
}

// PositionValue is one valued position inside a snapshot.
type PositionValue struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Price         decimal.Decimal `json:"price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	// Stale marks a position valued without a live price (feed never
	// delivered one, or the feed is down). Such positions are carried at
	// cost.
	Stale bool `json:"stale"`
}

// Snapshot is a point-in-time valuation of one user's portfolio.
type Snapshot struct {
	UserID             string          `json:"user_id"`
	AsOf               time.Time       `json:"as_of"`
	CashBalance        decimal.Decimal `json:"cash_balance"`
	Positions          []PositionValue `json:"positions"`
	TotalMarketValue   decimal.Decimal `json:"total_market_value"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	DailyChange        decimal.Decimal `json:"daily_change"`
	Stale              bool            `json:"stale"`
}

// Engine computes snapshots on demand; it holds no state of its own.
type Engine struct {
	prices    PriceSource
	positions PositionSource
	balances  BalanceStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates a valuation engine over the given collaborators.
func NewEngine(prices PriceSource, positions PositionSource, balances BalanceStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		prices:    prices,
		positions: positions,
		balances:  balances,
		logger:    logger,
		now:       time.Now,
	}
}

// Snapshot values the user's portfolio against the latest cached prices.
//
// A missing price never fails the snapshot: the affected position is carried
// at cost and flagged stale, and the snapshot as a whole is flagged stale —
// live valuation degrades gracefully under feed outage.
func (e *Engine) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	cash, err := e.balances.CashBalance(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cash balance for %s: %w", userID, err)
	}

	snap := Snapshot{
		UserID:      userID,
		AsOf:        e.now().UTC(),
		CashBalance: cash,
	}

	for _, pos := range e.positions.PositionsOf(userID) {
		pv := PositionValue{
			Symbol:   pos.Symbol,
			Quantity: pos.Quantity,
			AvgCost:  pos.AvgCost,
		}

		if tick, ok := e.prices.LastPrice(pos.Symbol); ok {
			price := decimal.NewFromFloat(tick.Price)
			pv.Price = price
			pv.MarketValue = price.Mul(pos.Quantity)
			pv.UnrealizedPnL = price.Sub(pos.AvgCost).Mul(pos.Quantity)
		} else {
			pv.Price = pos.AvgCost
			pv.MarketValue = pos.AvgCost.Mul(pos.Quantity)
			pv.Stale = true
			snap.Stale = true
		}

		snap.Positions = append(snap.Positions, pv)
		snap.TotalMarketValue = snap.TotalMarketValue.Add(pv.MarketValue)
		snap.TotalUnrealizedPnL = snap.TotalUnrealizedPnL.Add(pv.UnrealizedPnL)
	}

	snap.TotalMarketValue = snap.TotalMarketValue.Add(cash)

	baseline, err := e.balances.PriorDayValue(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("prior-day baseline for %s: %w", userID, err)
	}
	snap.DailyChange = snap.TotalMarketValue.Sub(baseline)

	return snap, nil
}
