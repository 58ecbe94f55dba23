package txlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jpereira/stockstream/internal/model"
)

// replayQuery reads the full log in execution order. The id tiebreak keeps
// same-timestamp entries in a stable order across restarts.
const replayQuery = `
SELECT id, user_id, symbol, side, quantity::text, price::text, executed_at
FROM transactions
ORDER BY executed_at, id`

// Store reads the persisted transaction log from Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an established connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Source opens an ordered cursor over the whole log. The caller must Close
// it after the replay pass.
func (s *Store) Source(ctx context.Context) (*RowSource, error) {
	rows, err := s.pool.Query(ctx, replayQuery)
	if err != nil {
		return nil, fmt.Errorf("query transaction log: %w", err)
	}
	return &RowSource{rows: rows}, nil
}

// RowSource streams transactions off a pgx cursor one at a time, so a large
// log is never held in memory.
type RowSource struct {
	rows pgx.Rows
}

// Next returns the next transaction in execution order, ok=false at the end.
func (r *RowSource) Next(ctx context.Context) (model.Transaction, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Transaction{}, false, err
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return model.Transaction{}, false, fmt.Errorf("scan transaction log: %w", err)
		}
		return model.Transaction{}, false, nil
	}

	var (
		id         uuid.UUID
		userID     string
		symbol     string
		side       string
		qtyText    string
		priceText  string
		executedAt time.Time
	)
	if err := r.rows.Scan(&id, &userID, &symbol, &side, &qtyText, &priceText, &executedAt); err != nil {
		return model.Transaction{}, false, fmt.Errorf("scan transaction row: %w", err)
	}

	qty, err := decimal.NewFromString(qtyText)
	if err != nil {
		return model.Transaction{}, false, fmt.Errorf("parse quantity %q: %w", qtyText, err)
	}
	price, err := decimal.NewFromString(priceText)
	if err != nil {
		return model.Transaction{}, false, fmt.Errorf("parse price %q: %w", priceText, err)
	}

	return model.Transaction{
		ID:        id,
		UserID:    userID,
		Symbol:    symbol,
		Side:      model.Side(side),
		Quantity:  qty,
		Price:     price,
		Timestamp: executedAt,
	}, true, nil
}

// Close releases the underlying cursor.
func (r *RowSource) Close() {
	r.rows.Close()
}
