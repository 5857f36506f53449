// Package eventlog is the append-only, Snowflake-ID-keyed record of every
// state change in an execution. It is the source of truth the broker reads
// to decide what happens next; nothing here is ever updated or deleted.
package eventlog

import (
	"encoding/json"
	"time"
)

// EventType is the closed set of event kinds the log accepts. Emit rejects
// anything outside this set.
type EventType string

const (
	EventExecutionStart   EventType = "execution_start"
	EventStepStarted      EventType = "step_started"
	EventActionStarted    EventType = "action_started"
	EventActionCompleted  EventType = "action_completed"
	EventActionError      EventType = "action_error"
	EventActionFailed     EventType = "action_failed"
	EventStepCompleted    EventType = "step_completed"
	EventStepFailed       EventType = "step_failed"
	EventStepResult       EventType = "step_result"
	EventLoopIteration    EventType = "loop_iteration"
	EventLoopCompleted    EventType = "loop_completed"
	EventResult           EventType = "result"
	EventExecutionComplete EventType = "execution_complete"
	EventExecutionFailed  EventType = "execution_failed"
)

var validEventTypes = map[EventType]bool{
	EventExecutionStart: true, EventStepStarted: true, EventActionStarted: true,
	EventActionCompleted: true, EventActionError: true, EventActionFailed: true,
	EventStepCompleted: true, EventStepFailed: true, EventStepResult: true,
	EventLoopIteration: true, EventLoopCompleted: true, EventResult: true,
	EventExecutionComplete: true, EventExecutionFailed: true,
}

// Status values an event's Status column may take.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusSuccess   = "SUCCESS"
)

// Event is one append-only row. The table is range-partitioned on
// ExecutionID, which naturally buckets by time because ExecutionID is a
// Snowflake ID with a leading millisecond-timestamp field.
type Event struct {
	ExecutionID        int64           `db:"execution_id" json:"execution_id"`
	EventID            int64           `db:"event_id" json:"event_id"`
	CatalogID           int64           `db:"catalog_id" json:"catalog_id"`
	ParentEventID       *int64          `db:"parent_event_id" json:"parent_event_id,omitempty"`
	ParentExecutionID    *int64          `db:"parent_execution_id" json:"parent_execution_id,omitempty"`
	EventType            string          `db:"event_type" json:"event_type"`
	NodeID               string          `db:"node_id" json:"node_id"`
	NodeName             string          `db:"node_name" json:"node_name"`
	NodeType             string          `db:"node_type" json:"node_type"`
	Status               string          `db:"status" json:"status"`
	Result               json.RawMessage `db:"result" json:"result,omitempty"`
	Error                string          `db:"error" json:"error,omitempty"`
	Context              json.RawMessage `db:"context" json:"context,omitempty"`
	CurrentIndex         *int            `db:"current_index" json:"current_index,omitempty"`
	CurrentItem          json.RawMessage `db:"current_item" json:"current_item,omitempty"`
	LoopID               string          `db:"loop_id" json:"loop_id,omitempty"`
	LoopName             string          `db:"loop_name" json:"loop_name,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	DurationMillis       *int64          `db:"duration_ms" json:"duration_ms,omitempty"`
}
