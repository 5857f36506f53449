package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noetl/noetl-sub007/internal/idgen"
)

// Log provides append/read access to the event table.
type Log struct {
	db  *sqlx.DB
	ids *idgen.Generator
}

// NewLog wires a Log to a database handle and ID generator.
func NewLog(db *sqlx.DB, ids *idgen.Generator) *Log {
	return &Log{db: db, ids: ids}
}

// Filters narrows GetByExecution to a subset of the log.
type Filters struct {
	EventType string
	NodeName  string
}

// Emit assigns a Snowflake event ID and appends the event. The caller's
// EventID field is ignored and overwritten.
func (l *Log) Emit(ctx context.Context, event Event) (int64, error) {
	if !validEventTypes[EventType(event.EventType)] {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, event.EventType)
	}
	if event.ExecutionID == 0 {
		return 0, ErrMissingExecutionID
	}

	event.EventID = l.ids.Next()

	query := `
		INSERT INTO events (
			execution_id, event_id, catalog_id, parent_event_id, parent_execution_id,
			event_type, node_id, node_name, node_type, status, result, error, context,
			current_index, current_item, loop_id, loop_name, duration_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now()
		)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ExecutionID, event.EventID, event.CatalogID, event.ParentEventID, event.ParentExecutionID,
		event.EventType, event.NodeID, event.NodeName, event.NodeType, event.Status, event.Result, event.Error, event.Context,
		event.CurrentIndex, event.CurrentItem, event.LoopID, event.LoopName, event.DurationMillis,
	)
	if err != nil {
		return 0, fmt.Errorf("eventlog: append event: %w", err)
	}

	return event.EventID, nil
}

// GetByExecution returns every event for an execution, ordered by event_id,
// optionally narrowed by EventType and/or NodeName.
func (l *Log) GetByExecution(ctx context.Context, executionID int64, filters Filters) ([]Event, error) {
	query := `SELECT * FROM events WHERE execution_id = $1`
	args := []interface{}{executionID}

	if filters.EventType != "" {
		args = append(args, filters.EventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filters.NodeName != "" {
		args = append(args, filters.NodeName)
		query += fmt.Sprintf(" AND node_name = $%d", len(args))
	}
	query += " ORDER BY event_id ASC"

	var events []Event
	if err := l.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("eventlog: select by execution: %w", err)
	}
	return events, nil
}

// GetLatest returns the most recent event of a given type for a node,
// within an execution, or ErrNotFound.
func (l *Log) GetLatest(ctx context.Context, executionID int64, nodeName string, eventType EventType) (*Event, error) {
	var event Event
	err := l.db.GetContext(ctx, &event, `
		SELECT * FROM events
		WHERE execution_id = $1 AND node_name = $2 AND event_type = $3
		ORDER BY event_id DESC
		LIMIT 1
	`, executionID, nodeName, string(eventType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

// GetAllNodeResults scans action_completed/step_result/result events with a
// COMPLETED or SUCCESS status and projects the most recent non-empty result
// per node name — the evaluation context the broker renders transitions
// against.
func (l *Log) GetAllNodeResults(ctx context.Context, executionID int64) (map[string]json.RawMessage, error) {
	var events []Event
	err := l.db.SelectContext(ctx, &events, `
		SELECT * FROM events
		WHERE execution_id = $1
		  AND event_type IN ($2, $3, $4)
		  AND status IN ($5, $6)
		ORDER BY event_id ASC
	`, executionID, string(EventActionCompleted), string(EventStepResult), string(EventResult), StatusCompleted, StatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("eventlog: scan node results: %w", err)
	}

	results := make(map[string]json.RawMessage, len(events))
	for _, e := range events {
		if len(e.Result) == 0 || string(e.Result) == "null" {
			continue
		}
		results[e.NodeName] = e.Result
	}
	return results, nil
}
