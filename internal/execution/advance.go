package execution

import (
	"context"
	"encoding/json"
	"fmt"

	"time"

	"github.com/noetl/noetl-sub007/internal/broker"
	"github.com/noetl/noetl-sub007/internal/catalogstore"
	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/notify"
	"github.com/noetl/noetl-sub007/internal/playbook"
	"github.com/noetl/noetl-sub007/internal/render"
)

// Advancer re-evaluates an in-flight execution: load its event log, replay
// broker.Evaluate against it, and commit whatever decisions fall out. It is
// the path a worker's completion/failure callback drives, and the path the
// queue's dead-letter sweep drives too, matching Evaluate's own doc comment
// that the driver may call it "after every queue completion and every
// external event" with no bookkeeping of what it already evaluated.
type Advancer struct {
	catalog  *catalogstore.Store
	events   *eventlog.Log
	driver   *Driver
	eval     *render.Evaluator
	notifier *notify.Publisher
}

// NewAdvancer wires an Advancer to its collaborators.
func NewAdvancer(catalog *catalogstore.Store, events *eventlog.Log, driver *Driver, eval *render.Evaluator) *Advancer {
	return &Advancer{catalog: catalog, events: events, driver: driver, eval: eval}
}

// SetNotifier attaches the external outcome publisher. Left nil, Advance
// never publishes — only serverctx's wiring (when NotifyConfig.Enabled)
// calls this; tests construct an Advancer without one.
func (a *Advancer) SetNotifier(publisher *notify.Publisher) {
	a.notifier = publisher
}

// Advance re-evaluates executionID against its current event log and
// commits whatever new decisions that produces. Calling it again before any
// new event lands is a no-op: Evaluate returns the same decisions it
// already returned, and the driver's writes are idempotent.
func (a *Advancer) Advance(ctx context.Context, executionID, catalogID int64) error {
	entry, err := a.catalog.FetchByID(ctx, catalogID)
	if err != nil {
		return fmt.Errorf("execution: fetch catalog entry: %w", err)
	}
	if entry.Kind != string(catalogstore.KindPlaybook) {
		return ErrNotAPlaybook
	}

	var pb playbook.Playbook
	if err := json.Unmarshal(entry.Payload, &pb); err != nil {
		return fmt.Errorf("execution: decode playbook payload: %w", err)
	}

	events, err := a.events.GetByExecution(ctx, executionID, eventlog.Filters{})
	if err != nil {
		return fmt.Errorf("execution: load event log: %w", err)
	}

	workload, err := startWorkload(events)
	if err != nil {
		return fmt.Errorf("execution: recover workload: %w", err)
	}

	decisions := broker.Evaluate(broker.Input{
		Playbook:    &pb,
		ExecutionID: executionID,
		Workload:    workload,
		Events:      events,
	}, a.eval)

	if err := a.driver.Apply(ctx, executionID, catalogID, decisions); err != nil {
		return fmt.Errorf("execution: apply decisions: %w", err)
	}

	if a.notifier != nil {
		a.publishFinalize(ctx, executionID, catalogID, entry.Path, decisions)
	}
	return nil
}

// publishFinalize fans a terminal outcome out to the external bus once the
// driver has durably committed it. Best-effort: a publish failure is logged
// by the publisher's own backend, not returned, since the execution itself
// already finished successfully by this point.
func (a *Advancer) publishFinalize(ctx context.Context, executionID, catalogID int64, path string, decisions []broker.Decision) {
	for _, dec := range decisions {
		if dec.Kind != broker.KindFinalize {
			continue
		}
		status := "completed"
		if dec.Finalize.Failed {
			status = "failed"
		}
		_ = a.notifier.Publish(ctx, notify.Outcome{
			ExecutionID: fmt.Sprintf("%d", executionID),
			CatalogID:   fmt.Sprintf("%d", catalogID),
			Path:        path,
			Status:      status,
			Result:      dec.Finalize.Result,
			Error:       dec.Finalize.Error,
			CompletedAt: time.Now(),
		})
	}
}

// startWorkload recovers the merged workload Execute stashed in
// execution_start's context, the one piece of Evaluate's input that isn't
// reconstructible from the event log's later entries alone.
func startWorkload(events []eventlog.Event) (map[string]interface{}, error) {
	for _, e := range events {
		if e.EventType != string(eventlog.EventExecutionStart) {
			continue
		}
		if len(e.Context) == 0 {
			return nil, nil
		}
		var parsed struct {
			Workload map[string]interface{} `json:"workload"`
		}
		if err := json.Unmarshal(e.Context, &parsed); err != nil {
			return nil, fmt.Errorf("decode execution_start context: %w", err)
		}
		return parsed.Workload, nil
	}
	return nil, nil
}
