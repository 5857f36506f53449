package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/jobqueue"
)

// Completer is the worker-facing half of the queue lifecycle. The worker
// itself posts the step's action_completed event through the generic event
// endpoint before calling Complete; Complete's own job is just to mark the
// queue row done and re-run the broker so the resulting transition (if any)
// gets dispatched, matching original_source queue/service.py::complete_job
// ("mark a job completed and trigger broker evaluation" — the result
// mapping itself already landed as an event by the time this runs). Fail is
// the symmetric nack path, also grounded on complete_job's neighbor in that
// file.
type Completer struct {
	queue    *jobqueue.Queue
	events   *eventlog.Log
	advancer *Advancer
}

// NewCompleter wires a Completer to its collaborators.
func NewCompleter(queue *jobqueue.Queue, events *eventlog.Log, advancer *Advancer) *Completer {
	return &Completer{queue: queue, events: events, advancer: advancer}
}

// Complete marks queueID done and re-evaluates its execution.
func (c *Completer) Complete(ctx context.Context, queueID int64) error {
	entry, err := c.queue.Complete(ctx, queueID)
	if err != nil {
		return fmt.Errorf("execution: complete queue entry: %w", err)
	}
	return c.advancer.Advance(ctx, entry.ExecutionID, entry.CatalogID)
}

// Fail acks queueID as a failure. It always records action_error; if the
// entry goes permanently dead (retries exhausted or retry=false), it also
// emits step_failed and execution_failed, matching
// queue/service.py::_emit_final_failure_events. A retry that still has
// attempts left needs no broker re-evaluation — the transition engine only
// reacts to action_completed.
func (c *Completer) Fail(ctx context.Context, queueID int64, retry bool, retryDelaySeconds int, lastError string) error {
	entry, err := c.queue.Fail(ctx, queueID, retry, retryDelaySeconds, lastError)
	if err != nil {
		return fmt.Errorf("execution: fail queue entry: %w", err)
	}

	stepName := stepNameFromNodeID(entry.NodeID)

	if _, err := c.events.Emit(ctx, eventlog.Event{
		ExecutionID: entry.ExecutionID,
		CatalogID:   entry.CatalogID,
		EventType:   string(eventlog.EventActionError),
		NodeID:      entry.NodeID,
		NodeName:    stepName,
		NodeType:    "step",
		Status:      eventlog.StatusFailed,
		Error:       lastError,
	}); err != nil {
		return fmt.Errorf("execution: emit action_error: %w", err)
	}

	if entry.Status != string(jobqueue.StatusDead) {
		return nil
	}

	if _, err := c.events.Emit(ctx, eventlog.Event{
		ExecutionID: entry.ExecutionID,
		CatalogID:   entry.CatalogID,
		EventType:   string(eventlog.EventStepFailed),
		NodeID:      entry.NodeID,
		NodeName:    stepName,
		NodeType:    "step",
		Status:      eventlog.StatusFailed,
		Error:       lastError,
	}); err != nil {
		return fmt.Errorf("execution: emit step_failed: %w", err)
	}

	if _, err := c.events.Emit(ctx, eventlog.Event{
		ExecutionID: entry.ExecutionID,
		CatalogID:   entry.CatalogID,
		EventType:   string(eventlog.EventExecutionFailed),
		NodeID:      fmt.Sprintf("%d", entry.ExecutionID),
		NodeName:    stepName,
		NodeType:    "execution",
		Status:      eventlog.StatusFailed,
		Error:       fmt.Sprintf("execution failed at step %q: %s", stepName, lastError),
		Result:      mustJSON(map[string]interface{}{"failed_step": stepName, "reason": lastError}),
	}); err != nil {
		return fmt.Errorf("execution: emit execution_failed: %w", err)
	}

	return nil
}

// stepNameFromNodeID recovers the step name from a "executionID:stepName"
// node ID, the format every enqueue in this package uses.
func stepNameFromNodeID(nodeID string) string {
	_, name, found := strings.Cut(nodeID, ":")
	if !found {
		return nodeID
	}
	return name
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
