package broker

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/loop"
	"github.com/noetl/noetl-sub007/internal/playbook"
	"github.com/noetl/noetl-sub007/internal/render"
	"github.com/noetl/noetl-sub007/internal/transition"
)

const (
	defaultPriority    = 5
	defaultMaxAttempts = 3
)

// Input is a read-only snapshot of everything Evaluate needs: the parsed
// playbook, the execution's workload, and its full event history so far.
type Input struct {
	Playbook    *playbook.Playbook
	ExecutionID int64
	Workload    map[string]interface{}
	Events      []eventlog.Event
}

// walker holds the mutable state one Evaluate/Bootstrap pass threads through
// its recursive descent, so both entry points can share the same traversal.
type walker struct {
	in          Input
	eval        *render.Evaluator
	events      []eventlog.Event
	byName      map[string]*playbook.Step
	completed   map[string]bool
	actionable  map[string]bool
	nodeResults map[string]json.RawMessage
	baseContext map[string]interface{}
	decisions   []Decision
	finalized   bool
}

func newWalker(in Input, eval *render.Evaluator) *walker {
	events := in.Events
	byName := in.Playbook.StepByName()

	completed := map[string]bool{}
	for _, e := range events {
		if e.EventType == string(eventlog.EventStepCompleted) {
			completed[e.NodeName] = true
		}
	}

	nodeResults := map[string]json.RawMessage{}
	for _, e := range events {
		if e.EventType != string(eventlog.EventActionCompleted) && e.EventType != string(eventlog.EventResult) {
			continue
		}
		if e.Status != eventlog.StatusCompleted && e.Status != eventlog.StatusSuccess {
			continue
		}
		if len(e.Result) == 0 || string(e.Result) == "null" {
			continue
		}
		nodeResults[e.NodeName] = e.Result
	}

	baseContext := map[string]interface{}{}
	if in.Workload != nil {
		baseContext["workload"] = in.Workload
	}
	for name, raw := range nodeResults {
		var parsed interface{}
		_ = json.Unmarshal(raw, &parsed)
		baseContext[name] = parsed
	}

	actionable := map[string]bool{}
	for _, s := range in.Playbook.ActionableSteps() {
		actionable[s.Name] = true
	}

	return &walker{
		in:          in,
		eval:        eval,
		events:      events,
		byName:      byName,
		completed:   completed,
		actionable:  actionable,
		nodeResults: nodeResults,
		baseContext: baseContext,
	}
}

// allActionableStepsDone reports whether every actionable step in the
// workflow has a step_completed event, the finalization gate for the `end`
// step: a DAG may have several branches converging on it, and the last
// branch to arrive is the one that actually finalizes.
func (w *walker) allActionableStepsDone() bool {
	for name := range w.actionable {
		if !w.completed[name] {
			return false
		}
	}
	return true
}

// advance emits stepName's step_completed (attributed to parentEventID, the
// real completion event that triggered this walk, or nil for a synthetic
// control-step recursion) and, unless it's terminal, evaluates its `next:`
// transitions: recursing synthetically into control-step targets, delegating
// to loop helpers for iterator targets, and enqueuing ordinary actionable
// targets.
func (w *walker) advance(stepName string, parentEventID *int64) {
	step := w.byName[stepName]
	if step == nil {
		return
	}

	// "end" may be reached by several converging branches; each one must
	// still run the finalize check below, so its dedup only guards the
	// step_completed emission, not re-entry.
	alreadyCompleted := w.completed[stepName]
	if alreadyCompleted && stepName != "end" {
		return
	}
	w.completed[stepName] = true

	if !alreadyCompleted {
		w.decisions = append(w.decisions, Decision{Kind: KindEmitEvent, Event: &EventDraft{
			EventType:     string(eventlog.EventStepCompleted),
			NodeID:        fmt.Sprintf("%d:%s", w.in.ExecutionID, stepName),
			NodeName:      stepName,
			NodeType:      "step",
			Status:        eventlog.StatusCompleted,
			ParentEventID: parentEventID,
		}})
	}

	localCtx := cloneContext(w.baseContext)
	if raw, ok := w.nodeResults[stepName]; ok {
		var parsed interface{}
		_ = json.Unmarshal(raw, &parsed)
		localCtx["result"] = parsed
	}

	if len(step.Next) == 0 {
		if stepName == "end" && !w.finalized && w.allActionableStepsDone() {
			w.finalized = true
			w.decisions = append(w.decisions, Decision{Kind: KindFinalize, Finalize: &FinalizeDraft{
				Result: w.renderEndResult(step, localCtx),
			}})
		}
		return
	}

	for i := range step.Next {
		t := &step.Next[i]
		if !transition.EvaluateWhen(t, localCtx, w.eval) {
			continue
		}
		target := w.byName[t.Step]
		if target == nil {
			continue
		}
		w.dispatchTarget(target, t, localCtx, parentEventID)
	}
}

// dispatchTarget routes a single transition target: control steps recurse
// synthetically, iterator steps fan out, and ordinary actionable steps are
// enqueued. inbound may be nil when dispatching a step with no incoming
// edge (the bootstrap case where "start" is itself actionable).
func (w *walker) dispatchTarget(target *playbook.Step, inbound *playbook.Transition, localCtx map[string]interface{}, parentEventID *int64) {
	if transition.IsControlStep(target) {
		w.advance(target.Name, parentEventID)
		return
	}

	if target.Type() == "iterator" {
		w.decisions = append(w.decisions, fanOutIterator(w.in, target, localCtx, w.eval, w.events)...)
		return
	}

	task := transition.BuildTask(target, inbound)
	w.decisions = append(w.decisions, Decision{Kind: KindEnqueueJob, Enqueue: &EnqueueDraft{
		NodeID:      fmt.Sprintf("%d:%s", w.in.ExecutionID, target.Name),
		NodeName:    target.Name,
		Action:      task,
		Context:     localCtx,
		Priority:    defaultPriority,
		MaxAttempts: defaultMaxAttempts,
	}})
}

// Evaluate is the broker's entry point. Given a playbook and an execution's
// event log, it returns every decision implied by state the log already
// contains. It never mutates its arguments and never performs I/O; running
// it twice against the same events returns the same decisions, which is what
// lets the driver call it after every queue completion and every external
// event without needing to track what it already evaluated.
func Evaluate(in Input, eval *render.Evaluator) []Decision {
	for _, e := range in.Events {
		if e.EventType == string(eventlog.EventExecutionComplete) || e.EventType == string(eventlog.EventExecutionFailed) {
			return nil
		}
	}

	w := newWalker(in, eval)

	latestCompletion := map[string]eventlog.Event{}
	for _, e := range in.Events {
		if e.EventType != string(eventlog.EventActionCompleted) {
			continue
		}
		if e.Status != eventlog.StatusCompleted && e.Status != eventlog.StatusSuccess {
			continue
		}
		latestCompletion[e.NodeName] = e
	}

	for i := range in.Playbook.Workflow {
		step := &in.Playbook.Workflow[i]
		if step.Type() != "iterator" {
			continue
		}
		w.decisions = append(w.decisions, fanInIterator(in, step, w.baseContext, eval, in.Events)...)
	}

	var names []string
	for name := range latestCompletion {
		if !w.completed[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		ev := latestCompletion[name]
		id := ev.EventID
		w.advance(name, &id)
	}

	return w.decisions
}

// Bootstrap is the initializer's entry point: a fresh execution has only an
// execution_start event, no action_completed to react to, so it can't use
// Evaluate's latestCompletion seeding. It locates "start" and either walks
// its `next:` list (the ordinary case, where "start" is a pure control
// step) or, when "start" is itself actionable, dispatches it directly as
// the first task with no incoming edge.
func Bootstrap(in Input, eval *render.Evaluator) []Decision {
	w := newWalker(in, eval)
	start := w.byName["start"]
	if start == nil {
		return nil
	}
	if transition.IsControlStep(start) {
		w.advance("start", nil)
	} else {
		w.dispatchTarget(start, nil, w.baseContext, nil)
	}
	return w.decisions
}

// renderEndResult renders the `end` step's own `result:` mapping (a map of
// template strings) against the aggregated context, if it declares one;
// otherwise it falls back to the execution's resolved return value, the
// same fallback a child execution's result uses.
func (w *walker) renderEndResult(step *playbook.Step, context map[string]interface{}) map[string]interface{} {
	mapping, _ := step.Fields["result"].(map[string]interface{})
	if len(mapping) == 0 {
		return map[string]interface{}{"result": loopResultValue(w.events)}
	}
	out := make(map[string]interface{}, len(mapping))
	for key, v := range mapping {
		str, ok := v.(string)
		if !ok {
			out[key] = v
			continue
		}
		rendered, err := w.eval.RenderString(str, context)
		if err != nil {
			out[key] = nil
			continue
		}
		out[key] = rendered
	}
	return out
}

func cloneContext(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// loopResultValue resolves the execution's final result the same way a
// completed child execution's return value is resolved, with no return step
// named: an execution_complete result if one is recorded, otherwise the
// last non-null action_completed result.
func loopResultValue(events []eventlog.Event) interface{} {
	raw := loop.ResolveReturnValue(events, "")
	if raw == nil {
		return nil
	}
	var parsed interface{}
	_ = json.Unmarshal(raw, &parsed)
	return parsed
}
