// Package txlog connects the position ledger to the persisted transaction
// log: an ordered Postgres replay at boot, then a NATS subscription for
// transactions recorded while the service runs. Redelivered entries are
// absorbed by the ledger's idempotent apply.
package txlog
