// Package jobqueue is the transactional, Postgres-backed queue of tasks
// ready for worker execution. Idempotency (the enqueue unique constraint,
// dedup in the event log) is the correctness guarantee here, not locking —
// the only row-level lock taken is the FOR UPDATE SKIP LOCKED used by Lease
// to let many workers claim concurrently without contention.
package jobqueue

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Status is the fixed DAG a queue entry transitions through:
// queued -> leased -> (done | retry | dead); retry -> queued on availability.
type Status string

const (
	StatusQueued Status = "queued"
	StatusLeased Status = "leased"
	StatusRetry  Status = "retry"
	StatusDone   Status = "done"
	StatusDead   Status = "dead"
)

// Entry is one row of the queue.
type Entry struct {
	QueueID       int64           `db:"queue_id" json:"queue_id"`
	ExecutionID   int64           `db:"execution_id" json:"execution_id"`
	CatalogID     int64           `db:"catalog_id" json:"catalog_id"`
	NodeID        string          `db:"node_id" json:"node_id"`
	Action        json.RawMessage `db:"action" json:"action"`
	Context       json.RawMessage `db:"context" json:"context"`
	Priority      int             `db:"priority" json:"priority"`
	Status        string          `db:"status" json:"status"`
	Attempts      int             `db:"attempts" json:"attempts"`
	MaxAttempts   int             `db:"max_attempts" json:"max_attempts"`
	AvailableAt   time.Time       `db:"available_at" json:"available_at"`
	WorkerID      sql.NullString  `db:"worker_id" json:"worker_id,omitempty"`
	LeaseUntil    sql.NullTime    `db:"lease_until" json:"lease_until,omitempty"`
	LastHeartbeat sql.NullTime    `db:"last_heartbeat" json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// DefaultPriority matches the enqueue default in spec.
const DefaultPriority = 5

// DefaultMaxAttempts matches the enqueue default in spec (retry default is
// {3, 60}, not the higher value some legacy call sites used).
const DefaultMaxAttempts = 3

// DefaultRetryDelaySeconds is the default fail() retry backoff.
const DefaultRetryDelaySeconds = 60

// DefaultLeaseSeconds is the default lease() duration.
const DefaultLeaseSeconds = 60
