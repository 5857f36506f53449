package execution

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noetl/noetl-sub007/internal/broker"
	"github.com/noetl/noetl-sub007/internal/catalogstore"
	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/idgen"
	"github.com/noetl/noetl-sub007/internal/keychain"
	"github.com/noetl/noetl-sub007/internal/playbook"
	"github.com/noetl/noetl-sub007/internal/render"
)

// Request is one /execute call: a playbook reference (by path+version, or
// directly by catalog_id), the caller-supplied payload to merge into the
// playbook's own workload, and an optional requestor identity that rides
// in execution_start's context for audit trails.
type Request struct {
	Path      string
	Version   string
	CatalogID int64
	Payload   map[string]interface{}
	Requestor map[string]interface{}
}

// Initializer implements execute(path|catalog_id, payload, requestor_info?)
// → execution_id: resolve the catalog entry, mint an execution, resolve its
// keychain, emit execution_start, and dispatch the first actionable step.
type Initializer struct {
	catalog  *catalogstore.Store
	keychain *keychain.Resolver
	events   *eventlog.Log
	driver   *Driver
	ids      *idgen.Generator
	eval     *render.Evaluator
}

// NewInitializer wires an Initializer to its collaborators.
func NewInitializer(catalog *catalogstore.Store, resolver *keychain.Resolver, events *eventlog.Log, driver *Driver, ids *idgen.Generator, eval *render.Evaluator) *Initializer {
	return &Initializer{catalog: catalog, keychain: resolver, events: events, driver: driver, ids: ids, eval: eval}
}

// Execute resolves req's catalog entry, mints a new execution, resolves its
// keychain entries, emits execution_start, and dispatches the first
// actionable step (or finalizes immediately, for a playbook whose start
// leads straight to end).
func (i *Initializer) Execute(ctx context.Context, req Request) (int64, error) {
	entry, err := i.loadCatalogEntry(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("execution: load catalog entry: %w", err)
	}
	if entry.Kind != string(catalogstore.KindPlaybook) {
		return 0, ErrNotAPlaybook
	}

	var pb playbook.Playbook
	if err := json.Unmarshal(entry.Payload, &pb); err != nil {
		return 0, fmt.Errorf("execution: decode playbook payload: %w", err)
	}
	if _, ok := pb.StepByName()["start"]; !ok {
		return 0, ErrNoStartStep
	}

	executionID := i.ids.Next()
	workload := mergeWorkload(pb.Workload, req.Payload)

	if _, err := i.keychain.Resolve(ctx, pb.Keychain, entry.CatalogID, &executionID, workload); err != nil {
		return 0, fmt.Errorf("execution: resolve keychain: %w", err)
	}

	startContext := map[string]interface{}{
		"path":       entry.Path,
		"version":    entry.Version,
		"catalog_id": entry.CatalogID,
		"workload":   workload,
	}
	if req.Requestor != nil {
		startContext["meta"] = map[string]interface{}{"requestor": req.Requestor}
	}
	contextJSON, err := json.Marshal(startContext)
	if err != nil {
		return 0, fmt.Errorf("execution: marshal execution_start context: %w", err)
	}

	startEventID, err := i.events.Emit(ctx, eventlog.Event{
		ExecutionID: executionID,
		CatalogID:   entry.CatalogID,
		EventType:   string(eventlog.EventExecutionStart),
		NodeName:    "start",
		NodeType:    "execution",
		Status:      eventlog.StatusCompleted,
		Context:     contextJSON,
	})
	if err != nil {
		return 0, fmt.Errorf("execution: emit execution_start: %w", err)
	}

	decisions := broker.Bootstrap(broker.Input{
		Playbook:    &pb,
		ExecutionID: executionID,
		Workload:    workload,
		Events: []eventlog.Event{{
			EventID:   startEventID,
			EventType: string(eventlog.EventExecutionStart),
			NodeName:  "start",
		}},
	}, i.eval)

	if err := i.driver.Apply(ctx, executionID, entry.CatalogID, decisions); err != nil {
		return 0, fmt.Errorf("execution: apply bootstrap decisions: %w", err)
	}

	return executionID, nil
}

func (i *Initializer) loadCatalogEntry(ctx context.Context, req Request) (*catalogstore.Entry, error) {
	if req.CatalogID != 0 {
		return i.catalog.FetchByID(ctx, req.CatalogID)
	}
	return i.catalog.FetchByPath(ctx, req.Path, req.Version)
}
