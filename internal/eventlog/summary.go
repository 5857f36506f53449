package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ExecutionSummary is the projected view the control plane's /executions
// endpoints return: an execution's identity, lifecycle status derived from
// its terminal event (if any), and start/end timestamps. There is no
// separate executions table — the event log is the only source of truth,
// so this is a read-time projection, not a stored row.
type ExecutionSummary struct {
	ExecutionID int64           `json:"execution_id"`
	CatalogID   int64           `json:"catalog_id"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

const (
	statusRunningProjection   = "running"
	statusCompletedProjection = "completed"
	statusFailedProjection    = "failed"
)

// GetExecutionSummary projects executionID's current status from its
// execution_start event and, if present, its terminal execution_complete or
// execution_failed event.
func (l *Log) GetExecutionSummary(ctx context.Context, executionID int64) (*ExecutionSummary, error) {
	var start Event
	err := l.db.GetContext(ctx, &start, `
		SELECT * FROM events WHERE execution_id = $1 AND event_type = $2
		ORDER BY event_id ASC LIMIT 1
	`, executionID, string(EventExecutionStart))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("eventlog: load execution_start: %w", err)
	}

	summary := &ExecutionSummary{
		ExecutionID: executionID,
		CatalogID:   start.CatalogID,
		Status:      statusRunningProjection,
		StartedAt:   start.CreatedAt,
	}

	var terminal Event
	err = l.db.GetContext(ctx, &terminal, `
		SELECT * FROM events
		WHERE execution_id = $1 AND event_type IN ($2, $3)
		ORDER BY event_id DESC LIMIT 1
	`, executionID, string(EventExecutionComplete), string(EventExecutionFailed))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return summary, nil
		}
		return nil, fmt.Errorf("eventlog: load terminal event: %w", err)
	}

	endedAt := terminal.CreatedAt
	summary.EndedAt = &endedAt
	summary.Result = terminal.Result
	summary.Error = terminal.Error
	if terminal.EventType == string(EventExecutionFailed) {
		summary.Status = statusFailedProjection
	} else {
		summary.Status = statusCompletedProjection
	}
	return summary, nil
}

// ListExecutions returns the most recent executions' start events, newest
// first, each projected the same way GetExecutionSummary projects one.
func (l *Log) ListExecutions(ctx context.Context, limit int) ([]ExecutionSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	var starts []Event
	err := l.db.SelectContext(ctx, &starts, `
		SELECT * FROM events WHERE event_type = $1
		ORDER BY event_id DESC LIMIT $2
	`, string(EventExecutionStart), limit)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list execution starts: %w", err)
	}

	summaries := make([]ExecutionSummary, 0, len(starts))
	for _, start := range starts {
		summary, err := l.GetExecutionSummary(ctx, start.ExecutionID)
		if err != nil {
			return nil, fmt.Errorf("eventlog: project execution %d: %w", start.ExecutionID, err)
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}
