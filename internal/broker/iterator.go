package broker

import (
	"encoding/json"

	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/loop"
	"github.com/noetl/noetl-sub007/internal/playbook"
	"github.com/noetl/noetl-sub007/internal/render"
)

// fanOutIterator handles an iterator step's first entry: resolve its
// collection and emit a loop_iteration + enqueued task per element (or just
// the first element, for `mode: sync`). A loop already carrying
// loop_iteration events is left alone — fan-in is fanInIterator's job.
func fanOutIterator(in Input, target *playbook.Step, context map[string]interface{}, eval *render.Evaluator, events []eventlog.Event) []Decision {
	loopID := loop.ID(in.ExecutionID, target.Name)
	if loop.ExistingIterationCount(events, loopID) > 0 {
		return nil
	}

	items, err := loop.ResolveCollection(target, context, eval)
	if err != nil {
		return []Decision{{Kind: KindEmitEvent, Event: &EventDraft{
			EventType: string(eventlog.EventActionError),
			NodeName:  target.Name,
			NodeType:  "step",
			Status:    eventlog.StatusFailed,
			Error:     err.Error(),
			LoopID:    loopID,
			LoopName:  target.Name,
		}}}
	}

	if len(items) == 0 {
		return aggregateDecisions(target, loopID, nil)
	}

	mode, _ := fieldString(target, "mode")
	iterations := loop.BuildIterations(in.ExecutionID, target.Name, items)

	emitCount := len(iterations)
	if mode == "sync" {
		emitCount = 1
	}

	var decisions []Decision
	for _, it := range iterations[:emitCount] {
		decisions = append(decisions, iterationDecisions(target, it, loopID)...)
	}
	return decisions
}

// fanInIterator checks an already-started loop for completion and, for
// `mode: sync` loops, advances it one element at a time.
func fanInIterator(in Input, step *playbook.Step, baseContext map[string]interface{}, eval *render.Evaluator, events []eventlog.Event) []Decision {
	loopID := loop.ID(in.ExecutionID, step.Name)
	if loop.IsAggregated(events, loopID) {
		return nil
	}

	expected := loop.ExistingIterationCount(events, loopID)
	if expected == 0 {
		return nil
	}

	results := loop.CompletedResults(events, loopID)
	complete, ordered := loop.Aggregate(results, expected)
	if complete {
		return aggregateDecisions(step, loopID, ordered)
	}

	mode, _ := fieldString(step, "mode")
	if mode != "sync" {
		return nil
	}

	nextIndex := len(results)
	if nextIndex >= expected {
		return nil
	}

	items, err := loop.ResolveCollection(step, baseContext, eval)
	if err != nil || nextIndex >= len(items) {
		return nil
	}

	iterations := loop.BuildIterations(in.ExecutionID, step.Name, items)
	return iterationDecisions(step, iterations[nextIndex], loopID)
}

func iterationDecisions(step *playbook.Step, it loop.Iteration, loopID string) []Decision {
	index := it.Index
	elementKey, _ := fieldString(step, "element")

	return []Decision{
		{Kind: KindEmitEvent, Event: &EventDraft{
			EventType:    string(eventlog.EventLoopIteration),
			NodeID:       it.NodeID,
			NodeName:     step.Name,
			NodeType:     "loop",
			Status:       eventlog.StatusRunning,
			CurrentIndex: &index,
			CurrentItem:  it.Item,
			LoopID:       loopID,
			LoopName:     step.Name,
		}},
		{Kind: KindEnqueueJob, Enqueue: &EnqueueDraft{
			NodeID:      it.NodeID,
			NodeName:    step.Name,
			Action:      iterationTask(step, elementKey, it.Item),
			Context:     map[string]interface{}{},
			Priority:    defaultPriority,
			MaxAttempts: defaultMaxAttempts,
		}},
	}
}

// iterationTask materializes the nested `task:` definition of an iterator
// step for a single element, binding the element under its configured name.
func iterationTask(step *playbook.Step, elementKey string, item interface{}) map[string]interface{} {
	innerRaw, _ := step.Field("task")
	inner, _ := innerRaw.(map[string]interface{})

	task := cloneAny(inner)
	args, _ := task["args"].(map[string]interface{})
	args = cloneAny(args)
	if elementKey != "" {
		args[elementKey] = item
	}
	task["args"] = args
	task["name"] = step.Name
	return task
}

// aggregateDecisions emits the iterator step's aggregated completion: an
// action_completed for the step itself (so the next evaluation pass carries
// it through its own `next:` transitions exactly like any other completed
// actionable step) plus the terminal loop_completed marker.
func aggregateDecisions(step *playbook.Step, loopID string, ordered []json.RawMessage) []Decision {
	results := make([]interface{}, len(ordered))
	for i, r := range ordered {
		var v interface{}
		_ = json.Unmarshal(r, &v)
		results[i] = v
	}
	expected := len(results)
	aggregated := map[string]interface{}{
		"results": results,
		"result":  results,
		"count":   expected,
		"data": map[string]interface{}{
			"results": results,
			"result":  results,
			"count":   expected,
		},
	}
	loopContext := map[string]interface{}{
		"loop_completed":   true,
		"total_iterations": expected,
	}

	return []Decision{
		{Kind: KindEmitEvent, Event: &EventDraft{
			EventType: string(eventlog.EventActionCompleted),
			NodeName:  step.Name,
			NodeType:  "step",
			Status:    eventlog.StatusCompleted,
			Result:    aggregated,
			Context:   loopContext,
			LoopID:    loopID,
			LoopName:  step.Name,
		}},
		{Kind: KindEmitEvent, Event: &EventDraft{
			EventType: string(eventlog.EventLoopCompleted),
			NodeName:  step.Name,
			NodeType:  "loop",
			Status:    eventlog.StatusCompleted,
			Result:    aggregated,
			Context:   loopContext,
			LoopID:    loopID,
			LoopName:  step.Name,
		}},
	}
}

func fieldString(step *playbook.Step, key string) (string, bool) {
	v, ok := step.Field(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func cloneAny(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
