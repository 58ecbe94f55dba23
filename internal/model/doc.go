// Package model defines shared data types used across the stockstream service.
//
// Conventions:
//   - Prices: float64 for feed ticks (point samples), decimal.Decimal for
//     ledger money arithmetic (exact cost-basis accounting)
//   - Timestamps: time.Time in UTC
//   - IDs: string for symbols, uuid.UUID for transaction ids
package model
