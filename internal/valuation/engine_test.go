package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpereira/stockstream/internal/hub"
	"github.com/jpereira/stockstream/internal/ledger"
	"github.com/jpereira/stockstream/internal/model"
)

type fakeBalances struct {
	cash     map[string]decimal.Decimal
	baseline map[string]decimal.Decimal
}

func (f *fakeBalances) CashBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	return f.cash[userID], nil
}

func (f *fakeBalances) PriorDayValue(_ context.Context, userID string) (decimal.Decimal, error) {
	return f.baseline[userID], nil
}

func TestSnapshotDepositBuyTickSellScenario(t *testing.T) {
	// User deposits cash 1000; buys 10 AAPL @ 100; feed ticks AAPL @ 110;
	// sells 5 @ 110.
	h := hub.New(nil)
	l := ledger.New(nil)
	balances := &fakeBalances{
		cash:     map[string]decimal.Decimal{"u1": decimal.Zero}, // 1000 − 10×100
		baseline: map[string]decimal.Decimal{"u1": decimal.NewFromInt(1000)},
	}
	engine := NewEngine(h, l, balances, nil)

	_, err := l.Apply(model.Transaction{
		ID:        uuid.New(),
		UserID:    "u1",
		Symbol:    "AAPL",
		Side:      model.SideBuy,
		Quantity:  decimal.NewFromInt(10),
		Price:     decimal.NewFromInt(100),
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	h.OnTick(model.Tick{Symbol: "AAPL", Price: 110, Timestamp: time.Now()})

	snap, err := engine.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.False(t, snap.Stale)
	assert.True(t, snap.Positions[0].MarketValue.Equal(decimal.NewFromInt(1100)),
		"marketValue = %s, want 1100", snap.Positions[0].MarketValue)
	assert.True(t, snap.Positions[0].UnrealizedPnL.Equal(decimal.NewFromInt(100)),
		"unrealizedPnL = %s, want 100", snap.Positions[0].UnrealizedPnL)
	assert.True(t, snap.TotalMarketValue.Equal(decimal.NewFromInt(1100)))
	assert.True(t, snap.DailyChange.Equal(decimal.NewFromInt(100)))

	// Sell 5 @ 110 → position {qty: 5, avgCost: 100}, realized 50, cash 550.
	res, err := l.Apply(model.Transaction{
		ID:        uuid.New(),
		UserID:    "u1",
		Symbol:    "AAPL",
		Side:      model.SideSell,
		Quantity:  decimal.NewFromInt(5),
		Price:     decimal.NewFromInt(110),
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, res.RealizedPnL.Equal(decimal.NewFromInt(50)))
	assert.True(t, res.Position.Quantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, res.Position.AvgCost.Equal(decimal.NewFromInt(100)))

	balances.cash["u1"] = decimal.NewFromInt(550)

	snap, err = engine.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, snap.Positions[0].MarketValue.Equal(decimal.NewFromInt(550)))
	assert.True(t, snap.Positions[0].UnrealizedPnL.Equal(decimal.NewFromInt(50)))
	assert.True(t, snap.TotalMarketValue.Equal(decimal.NewFromInt(1100)), "550 stock + 550 cash")
}

func TestSnapshotFlagsStaleOnMissingPrice(t *testing.T) {
	h := hub.New(nil)
	l := ledger.New(nil)
	balances := &fakeBalances{
		cash:     map[string]decimal.Decimal{"u1": decimal.NewFromInt(100)},
		baseline: map[string]decimal.Decimal{"u1": decimal.NewFromInt(1100)},
	}
	engine := NewEngine(h, l, balances, nil)

	_, err := l.Apply(model.Transaction{
		ID:        uuid.New(),
		UserID:    "u1",
		Symbol:    "NVDA",
		Side:      model.SideBuy,
		Quantity:  decimal.NewFromInt(2),
		Price:     decimal.NewFromInt(500),
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	// No tick ever delivered for NVDA: snapshot still produced, carried at
	// cost, flagged stale.
	snap, err := engine.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Stale)
	assert.True(t, snap.Positions[0].Stale)
	assert.True(t, snap.Positions[0].MarketValue.Equal(decimal.NewFromInt(1000)))
	assert.True(t, snap.Positions[0].UnrealizedPnL.IsZero())
	assert.True(t, snap.TotalMarketValue.Equal(decimal.NewFromInt(1100)))
	assert.True(t, snap.DailyChange.IsZero())
}

func TestSnapshotEmptyPortfolio(t *testing.T) {
	h := hub.New(nil)
	l := ledger.New(nil)
	balances := &fakeBalances{
		cash:     map[string]decimal.Decimal{"u1": decimal.NewFromInt(1000)},
		baseline: map[string]decimal.Decimal{"u1": decimal.NewFromInt(1000)},
	}
	engine := NewEngine(h, l, balances, nil)

	snap, err := engine.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, snap.Positions)
	assert.False(t, snap.Stale)
	assert.True(t, snap.TotalMarketValue.Equal(decimal.NewFromInt(1000)))
	assert.True(t, snap.DailyChange.IsZero())
}
