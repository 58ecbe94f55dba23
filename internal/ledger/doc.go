// Package ledger folds the append-only transaction log into per-user
// positions with cost-basis accounting.
//
// State is always a pure, deterministic fold over transactions: replaying the
// log from scratch reproduces it exactly. Applies for the same user are
// serialized; different users' books are independent and mutate concurrently.
package ledger
