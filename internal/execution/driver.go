package execution

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noetl/noetl-sub007/internal/broker"
	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/jobqueue"
)

// Driver is the sole writer of broker decisions: it turns a pure
// evaluation's output into event-log appends and queue inserts. Splitting
// the decision (what should happen) from the driver (make it durable) is
// what keeps internal/broker free of any database dependency, matching the
// original engine's separation between process_completed_steps's pure
// transition logic and its calling code's commits.
type Driver struct {
	events *eventlog.Log
	queue  *jobqueue.Queue
}

// NewDriver wires a Driver to the event log and job queue it commits to.
func NewDriver(events *eventlog.Log, queue *jobqueue.Queue) *Driver {
	return &Driver{events: events, queue: queue}
}

// Apply commits a batch of decisions in order. Each decision is
// independently idempotent (enqueue via the queue's unique constraint,
// events via the broker never re-deriving a decision for an already
// step_completed node), so a caller that crashes partway through and
// re-evaluates from the same event snapshot does no harm beyond what
// already landed.
func (d *Driver) Apply(ctx context.Context, executionID, catalogID int64, decisions []broker.Decision) error {
	for _, dec := range decisions {
		var err error
		switch dec.Kind {
		case broker.KindEmitEvent:
			err = d.emit(ctx, executionID, catalogID, dec.Event)
		case broker.KindEnqueueJob:
			err = d.enqueue(ctx, executionID, catalogID, dec.Enqueue)
		case broker.KindFinalize:
			err = d.finalize(ctx, executionID, catalogID, dec.Finalize)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) emit(ctx context.Context, executionID, catalogID int64, draft *broker.EventDraft) error {
	resultJSON, err := marshalOrNil(draft.Result)
	if err != nil {
		return fmt.Errorf("execution: marshal event result: %w", err)
	}
	contextJSON, err := marshalOrNil(draft.Context)
	if err != nil {
		return fmt.Errorf("execution: marshal event context: %w", err)
	}
	currentItemJSON, err := marshalOrNil(draft.CurrentItem)
	if err != nil {
		return fmt.Errorf("execution: marshal event current_item: %w", err)
	}

	_, err = d.events.Emit(ctx, eventlog.Event{
		ExecutionID:   executionID,
		CatalogID:     catalogID,
		ParentEventID: draft.ParentEventID,
		EventType:     draft.EventType,
		NodeID:        draft.NodeID,
		NodeName:      draft.NodeName,
		NodeType:      draft.NodeType,
		Status:        draft.Status,
		Result:        resultJSON,
		Error:         draft.Error,
		Context:       contextJSON,
		CurrentIndex:  draft.CurrentIndex,
		CurrentItem:   currentItemJSON,
		LoopID:        draft.LoopID,
		LoopName:      draft.LoopName,
	})
	if err != nil {
		return fmt.Errorf("execution: emit %s: %w", draft.EventType, err)
	}
	return nil
}

// enqueue emits step_started before inserting the queue row, preserving
// the "step_started always precedes action_completed for the same step"
// ordering guarantee for every actionable step the broker ever dispatches,
// not just the execution's first.
func (d *Driver) enqueue(ctx context.Context, executionID, catalogID int64, draft *broker.EnqueueDraft) error {
	contextJSON, err := marshalOrNil(draft.Context)
	if err != nil {
		return fmt.Errorf("execution: marshal enqueue context: %w", err)
	}
	if _, err := d.events.Emit(ctx, eventlog.Event{
		ExecutionID: executionID,
		CatalogID:   catalogID,
		EventType:   string(eventlog.EventStepStarted),
		NodeID:      draft.NodeID,
		NodeName:    draft.NodeName,
		NodeType:    "step",
		Status:      eventlog.StatusRunning,
		Context:     contextJSON,
	}); err != nil {
		return fmt.Errorf("execution: emit step_started: %w", err)
	}

	if _, _, err := d.queue.Enqueue(ctx, executionID, catalogID, draft.NodeID, draft.Action, draft.Context, draft.Priority, draft.MaxAttempts); err != nil {
		return fmt.Errorf("execution: enqueue %s: %w", draft.NodeName, err)
	}
	return nil
}

// finalize emits execution_complete (or execution_failed, for a failed
// finalize draft) carrying the rendered result, grounded on
// finalize.py::finalize_execution.
func (d *Driver) finalize(ctx context.Context, executionID, catalogID int64, draft *broker.FinalizeDraft) error {
	eventType := eventlog.EventExecutionComplete
	status := eventlog.StatusCompleted
	if draft.Failed {
		eventType = eventlog.EventExecutionFailed
		status = eventlog.StatusFailed
	}

	resultJSON, err := marshalOrNil(draft.Result)
	if err != nil {
		return fmt.Errorf("execution: marshal finalize result: %w", err)
	}

	nodeName := draft.FailedStep
	if nodeName == "" {
		nodeName = "end"
	}

	if _, err := d.events.Emit(ctx, eventlog.Event{
		ExecutionID: executionID,
		CatalogID:   catalogID,
		EventType:   string(eventType),
		NodeName:    nodeName,
		NodeType:    "execution",
		Status:      status,
		Result:      resultJSON,
		Error:       draft.Error,
	}); err != nil {
		return fmt.Errorf("execution: emit %s: %w", eventType, err)
	}
	return nil
}

func marshalOrNil(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]interface{}); ok && len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
