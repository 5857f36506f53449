package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noetl/noetl-sub007/internal/idgen"
)

// Queue provides the lease/heartbeat/complete/fail/reap operations over the
// queue table. Broker evaluation is triggered by the caller (the driver
// wiring Queue, eventlog and broker together), not by Queue itself, to keep
// this package free of a dependency on the broker.
type Queue struct {
	db         *sqlx.DB
	ids        *idgen.Generator
	deadLetter DeadLetterPublisher
}

// NewQueue wires a Queue. deadLetter may be nil, in which case dead entries
// are simply not published anywhere external.
func NewQueue(db *sqlx.DB, ids *idgen.Generator, deadLetter DeadLetterPublisher) *Queue {
	if deadLetter == nil {
		deadLetter = NoopDeadLetterPublisher{}
	}
	return &Queue{db: db, ids: ids, deadLetter: deadLetter}
}

// Enqueue inserts a new queue row for (execution_id, node_id). A second
// enqueue of the same pair is silently absorbed by the unique constraint —
// this is the idempotency mechanism that makes broker re-evaluation safe.
// Returns (0, false, nil) when the row already existed.
func (q *Queue) Enqueue(ctx context.Context, executionID, catalogID int64, nodeID string, action, taskContext map[string]interface{}, priority, maxAttempts int) (int64, bool, error) {
	if priority == 0 {
		priority = DefaultPriority
	}
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}

	actionJSON, err := json.Marshal(action)
	if err != nil {
		return 0, false, fmt.Errorf("jobqueue: marshal action: %w", err)
	}
	contextJSON, err := json.Marshal(taskContext)
	if err != nil {
		return 0, false, fmt.Errorf("jobqueue: marshal context: %w", err)
	}

	queueID := q.ids.Next()
	var returnedID int64
	err = q.db.QueryRowxContext(ctx, `
		INSERT INTO queue_entries (
			queue_id, execution_id, catalog_id, node_id, action, context,
			priority, status, attempts, max_attempts, available_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, 0, $9, now(), now()
		)
		ON CONFLICT (execution_id, node_id) DO NOTHING
		RETURNING queue_id
	`, queueID, executionID, catalogID, nodeID, actionJSON, contextJSON, priority, string(StatusQueued), maxAttempts).Scan(&returnedID)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("jobqueue: enqueue: %w", err)
	}

	return returnedID, true, nil
}

// Lease atomically claims the highest-priority queued/retry row whose
// available_at has passed, using SELECT ... FOR UPDATE SKIP LOCKED so N
// workers can lease concurrently without blocking each other.
func (q *Queue) Lease(ctx context.Context, workerID string, leaseSeconds int) (*Entry, error) {
	if leaseSeconds <= 0 {
		leaseSeconds = DefaultLeaseSeconds
	}

	query := `
		UPDATE queue_entries
		SET status = $1,
		    worker_id = $2,
		    lease_until = now() + ($3 || ' seconds')::interval,
		    attempts = attempts + 1
		WHERE queue_id = (
			SELECT queue_id FROM queue_entries
			WHERE status IN ($4, $5) AND available_at <= now()
			ORDER BY priority DESC, queue_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`

	var entry Entry
	err := q.db.QueryRowxContext(ctx, query,
		string(StatusLeased), workerID, leaseSeconds, string(StatusQueued), string(StatusRetry),
	).StructScan(&entry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoWork
		}
		return nil, fmt.Errorf("jobqueue: lease: %w", err)
	}
	return &entry, nil
}

// Heartbeat records liveness and optionally extends the lease. It never
// reclaims or reassigns the entry — reap() is the sole reclaim path.
func (q *Queue) Heartbeat(ctx context.Context, queueID int64, extendSeconds int) error {
	var err error
	if extendSeconds > 0 {
		_, err = q.db.ExecContext(ctx, `
			UPDATE queue_entries
			SET last_heartbeat = now(), lease_until = now() + ($2 || ' seconds')::interval
			WHERE queue_id = $1
		`, queueID, extendSeconds)
	} else {
		_, err = q.db.ExecContext(ctx, `
			UPDATE queue_entries SET last_heartbeat = now() WHERE queue_id = $1
		`, queueID)
	}
	if err != nil {
		return fmt.Errorf("jobqueue: heartbeat: %w", err)
	}
	return nil
}

// Complete marks a queue entry done. The caller is responsible for
// triggering broker evaluation for entry.ExecutionID afterward.
func (q *Queue) Complete(ctx context.Context, queueID int64) (*Entry, error) {
	var entry Entry
	err := q.db.QueryRowxContext(ctx, `
		UPDATE queue_entries SET status = $1 WHERE queue_id = $2
		RETURNING *
	`, string(StatusDone), queueID).StructScan(&entry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue: complete: %w", err)
	}
	return &entry, nil
}

// Fail records a worker-reported failure. If attempts have reached
// max_attempts or retry is false, the entry is marked dead (and published to
// the dead-letter sink, if configured); otherwise it's returned to retry
// with available_at pushed out by retryDelaySeconds.
func (q *Queue) Fail(ctx context.Context, queueID int64, retry bool, retryDelaySeconds int, lastError string) (*Entry, error) {
	if retryDelaySeconds <= 0 {
		retryDelaySeconds = DefaultRetryDelaySeconds
	}

	var current Entry
	if err := q.db.GetContext(ctx, &current, `SELECT * FROM queue_entries WHERE queue_id = $1`, queueID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue: fail: load entry: %w", err)
	}

	goesDead := !retry || current.Attempts >= current.MaxAttempts

	var entry Entry
	var err error
	if goesDead {
		err = q.db.QueryRowxContext(ctx, `
			UPDATE queue_entries SET status = $1 WHERE queue_id = $2
			RETURNING *
		`, string(StatusDead), queueID).StructScan(&entry)
	} else {
		err = q.db.QueryRowxContext(ctx, `
			UPDATE queue_entries
			SET status = $1, available_at = now() + ($3 || ' seconds')::interval, worker_id = NULL
			WHERE queue_id = $2
			RETURNING *
		`, string(StatusRetry), queueID, retryDelaySeconds).StructScan(&entry)
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: fail: update: %w", err)
	}

	if goesDead {
		if pubErr := q.deadLetter.PublishDead(ctx, entry, lastError); pubErr != nil {
			return &entry, fmt.Errorf("jobqueue: publish dead-letter: %w", pubErr)
		}
	}

	return &entry, nil
}

// Reap resets leased entries whose lease has expired back to queued,
// clearing worker_id, so another worker can pick them up. Intended to be
// run periodically (~every 30s) by internal/background.
func (q *Queue) Reap(ctx context.Context) (int, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = $1, worker_id = NULL
		WHERE status = $2 AND lease_until < now()
	`, string(StatusQueued), string(StatusLeased))
	if err != nil {
		return 0, fmt.Errorf("jobqueue: reap: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Size counts queue entries in a given status.
func (q *Queue) Size(ctx context.Context, status string) (int, error) {
	var count int
	err := q.db.GetContext(ctx, &count, `SELECT count(*) FROM queue_entries WHERE status = $1`, status)
	if err != nil {
		return 0, fmt.Errorf("jobqueue: size: %w", err)
	}
	return count, nil
}
