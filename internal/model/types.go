package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Market Data Types
// -----------------------------------------------------------------------------

// Tick is a single normalized price observation for a symbol.
// Immutable once emitted by the feed client.
type Tick struct {
	Symbol    string    // Instrument symbol (e.g., "AAPL")
	Price     float64   // Last trade price
	Timestamp time.Time // Provider timestamp (UTC)
	Volume    int64     // Trade volume, 0 when the provider omits it
}

// -----------------------------------------------------------------------------
// Ledger Types
// -----------------------------------------------------------------------------

// Side indicates the direction of a transaction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Transaction is a single ledger entry from the persisted transaction log.
// Immutable; identified by a unique ID so re-delivery is detectable.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validation errors for Transaction.
var (
	ErrMissingUser        = errors.New("transaction user id is required")
	ErrMissingSymbol      = errors.New("transaction symbol is required")
	ErrNonPositiveAmounts = errors.New("transaction quantity and price must be > 0")
)

// Validate checks structural invariants: known side, non-empty user and
// symbol, strictly positive quantity and price.
func (t Transaction) Validate() error {
	if t.UserID == "" {
		return ErrMissingUser
	}
	if t.Symbol == "" {
		return ErrMissingSymbol
	}
	if !t.Side.Valid() {
		return fmt.Errorf("unknown transaction side %q", t.Side)
	}
	if !t.Quantity.IsPositive() || !t.Price.IsPositive() {
		return ErrNonPositiveAmounts
	}
	return nil
}

// Position is the derived holding of one user in one symbol. Never persisted
// by this subsystem; always recomputable by replaying transactions in order.
type Position struct {
	UserID   string
	Symbol   string
	Quantity decimal.Decimal // Always >= 0 (no shorting)
	AvgCost  decimal.Decimal // Quantity-weighted average of unclosed buys
}
