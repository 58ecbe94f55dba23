package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jpereira/stockstream/internal/model"
)

// ErrInsufficientPosition is returned for a sell exceeding the held quantity.
// The ledger is left unchanged.
var ErrInsufficientPosition = errors.New("ledger: sell exceeds held quantity")

// Result describes the outcome of an applied transaction.
type Result struct {
	// Position is the user's holding in the transaction's symbol afterwards.
	Position model.Position
	// RealizedPnL is (price − avgCost) × quantity for sells, zero for buys.
	RealizedPnL decimal.Decimal
	// Duplicate is true when the transaction id was already applied and the
	// call was a no-op.
	Duplicate bool
}

// book holds one user's derived state. Its mutex serializes all applies for
// that user; reads copy out under the same lock.
type book struct {
	mu        sync.Mutex
	positions map[string]model.Position
	applied   map[uuid.UUID]struct{}
	realized  decimal.Decimal
}

// Ledger is the in-memory position store derived from the transaction log.
type Ledger struct {
	logger *slog.Logger

	mu    sync.RWMutex // guards the books map, not the books themselves
	books map[string]*book

	appliedCount   int64
	duplicateCount int64
	rejectedCount  int64
	statsMu        sync.Mutex
}

// New creates an empty ledger.
func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger: logger,
		books:  make(map[string]*book),
	}
}

func (l *Ledger) bookOf(userID string) *book {
	l.mu.RLock()
	b, ok := l.books[userID]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[userID]; ok {
		return b
	}
	b = &book{
		positions: make(map[string]model.Position),
		applied:   make(map[uuid.UUID]struct{}),
	}
	l.books[userID] = b
	return b
}

// Apply folds one transaction into the user's book.
//
// All-or-nothing: validation failures and over-sells leave the book
// untouched. Re-applying an id that was already applied is a no-op, which
// makes replay-from-log and at-least-once delivery safe.
func (l *Ledger) Apply(tx model.Transaction) (Result, error) {
	if err := tx.Validate(); err != nil {
		return Result{}, fmt.Errorf("apply transaction %s: %w", tx.ID, err)
	}

	b := l.bookOf(tx.UserID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.applied[tx.ID]; dup {
		l.count(&l.duplicateCount)
		return Result{Position: b.positions[tx.Symbol], Duplicate: true}, nil
	}

	pos, ok := b.positions[tx.Symbol]
	if !ok {
		pos = model.Position{UserID: tx.UserID, Symbol: tx.Symbol}
	}

	var realized decimal.Decimal

	switch tx.Side {
	case model.SideBuy:
		// newAvgCost = (oldQty*oldAvgCost + txQty*txPrice) / (oldQty + txQty)
		newQty := pos.Quantity.Add(tx.Quantity)
		cost := pos.Quantity.Mul(pos.AvgCost).Add(tx.Quantity.Mul(tx.Price))
		pos.AvgCost = cost.Div(newQty)
		pos.Quantity = newQty

	case model.SideSell:
		if tx.Quantity.GreaterThan(pos.Quantity) {
			l.count(&l.rejectedCount)
			return Result{}, fmt.Errorf("apply transaction %s: %w", tx.ID, ErrInsufficientPosition)
		}
		// Sells realize P&L against the current avgCost; avgCost is unchanged.
		realized = tx.Price.Sub(pos.AvgCost).Mul(tx.Quantity)
		pos.Quantity = pos.Quantity.Sub(tx.Quantity)
		b.realized = b.realized.Add(realized)
	}

	b.positions[tx.Symbol] = pos
	b.applied[tx.ID] = struct{}{}
	l.count(&l.appliedCount)

	return Result{Position: pos, RealizedPnL: realized}, nil
}

// PositionOf returns the user's holding in symbol.
func (l *Ledger) PositionOf(userID, symbol string) (model.Position, bool) {
	l.mu.RLock()
	b, ok := l.books[userID]
	l.mu.RUnlock()
	if !ok {
		return model.Position{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	return pos, ok
}

// PositionsOf returns the user's open (non-zero) positions.
func (l *Ledger) PositionsOf(userID string) []model.Position {
	l.mu.RLock()
	b, ok := l.books[userID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		if pos.Quantity.IsPositive() {
			out = append(out, pos)
		}
	}
	return out
}

// RealizedOf returns the user's cumulative realized P&L.
func (l *Ledger) RealizedOf(userID string) decimal.Decimal {
	l.mu.RLock()
	b, ok := l.books[userID]
	l.mu.RUnlock()
	if !ok {
		return decimal.Zero
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realized
}

// TransactionSource yields ordered transactions for replay. Next returns
// ok=false once the source is exhausted.
type TransactionSource interface {
	Next(ctx context.Context) (tx model.Transaction, ok bool, err error)
}

// ReplayStats summarizes a replay pass.
type ReplayStats struct {
	Applied    int64
	Duplicates int64
	Rejected   int64
}

// Replay folds an ordered transaction stream into the ledger. Rejected and
// duplicate entries are logged and counted but never abort the pass: a
// durable log may legally contain entries this subsystem rejects.
func (l *Ledger) Replay(ctx context.Context, src TransactionSource) (ReplayStats, error) {
	var stats ReplayStats
	for {
		tx, ok, err := src.Next(ctx)
		if err != nil {
			return stats, fmt.Errorf("read transaction source: %w", err)
		}
		if !ok {
			return stats, nil
		}

		res, err := l.Apply(tx)
		switch {
		case errors.Is(err, ErrInsufficientPosition):
			stats.Rejected++
			l.logger.Warn("replay: rejected over-sell", "tx_id", tx.ID, "user_id", tx.UserID, "symbol", tx.Symbol)
		case err != nil:
			stats.Rejected++
			l.logger.Warn("replay: invalid transaction", "tx_id", tx.ID, "error", err)
		case res.Duplicate:
			stats.Duplicates++
		default:
			stats.Applied++
		}
	}
}

// Stats contains ledger-wide counters.
type Stats struct {
	Users      int
	Applied    int64
	Duplicates int64
	Rejected   int64
}

// Stats returns a snapshot of ledger counters.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	users := len(l.books)
	l.mu.RUnlock()

	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return Stats{
		Users:      users,
		Applied:    l.appliedCount,
		Duplicates: l.duplicateCount,
		Rejected:   l.rejectedCount,
	}
}

func (l *Ledger) count(field *int64) {
	l.statsMu.Lock()
	*field++
	l.statsMu.Unlock()
}
