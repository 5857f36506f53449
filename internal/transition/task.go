// Package transition materializes worker-dispatchable tasks from a step
// definition and an inbound edge, and decides whether a `next:` transition
// fires. It has no I/O: every function here is pure over its arguments.
package transition

import (
	"github.com/noetl/noetl-sub007/internal/playbook"
	"github.com/noetl/noetl-sub007/internal/render"
)

// allowedFields is the fixed allowlist copied from a step definition into
// its materialized task. Anything else on the step is authoring metadata
// and never reaches a worker.
var allowedFields = map[string]bool{
	"type": true, "code": true, "command": true, "sql": true, "url": true,
	"method": true, "headers": true, "params": true, "collection": true,
	"element": true, "mode": true, "where": true, "limit": true,
	"input": true, "payload": true, "args": true, "auth": true,
	"save": true, "credential": true, "retry": true, "name": true,
	"return_step": true, "task": true,
}

// controlTypes are steps that never enqueue work, though their `next:` is
// still evaluated.
var controlTypes = map[string]bool{"": true, "start": true, "end": true, "route": true}

// IsControlStep reports whether a step is control-flow only.
func IsControlStep(step *playbook.Step) bool {
	return controlTypes[step.Type()]
}

// BuildTask materializes the worker-dispatchable task for an actionable
// step, folding in the inbound transition's edge payload. Edge values in
// with/payload/input win over the step's own `args`/`with`.
//
// Task name: for a `type: workbook` step the task's name is its own `name:`
// field (matching the original engine's naming), not the step key; every
// other step type uses the step key.
func BuildTask(step *playbook.Step, inbound *playbook.Transition) map[string]interface{} {
	task := normalize(step.Fields)

	edge := mergedEdgePayload(inbound)
	if len(edge) > 0 {
		args, _ := task["args"].(map[string]interface{})
		if args == nil {
			args = map[string]interface{}{}
		} else {
			args = cloneMap(args)
		}
		for k, v := range edge {
			args[k] = v
		}
		task["args"] = args
	}

	task["name"] = taskName(step)
	return task
}

func taskName(step *playbook.Step) string {
	if step.Type() == "workbook" {
		if name, ok := step.Fields["name"].(string); ok && name != "" {
			return name
		}
	}
	return step.Name
}

// normalize copies the allowlisted fields from raw step fields, applies the
// with->args rename, the loop{in,iterator}->iterator alias, and the data:
// migration shim, per the Transition Engine's field handling.
func normalize(raw map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range raw {
		if allowedFields[k] {
			out[k] = v
		}
	}

	if with, ok := raw["with"]; ok {
		if _, hasArgs := out["args"]; !hasArgs {
			out["args"] = with
		}
	}

	if loopSpec, ok := raw["loop"].(map[string]interface{}); ok {
		out["type"] = "iterator"
		if in, ok := loopSpec["in"]; ok {
			out["collection"] = in
		}
		if iter, ok := loopSpec["iterator"]; ok {
			out["element"] = iter
		}
	}

	if data, hasData := raw["data"]; hasData {
		_, hasArgs := out["args"]
		if !hasArgs {
			out["args"] = data
		}
		// data: is reserved for outputs; it never survives into the task
		// beyond this migration shim.
	}

	return out
}

func mergedEdgePayload(t *playbook.Transition) map[string]interface{} {
	if t == nil {
		return nil
	}
	merged := map[string]interface{}{}
	for k, v := range t.Input {
		merged[k] = v
	}
	for k, v := range t.Payload {
		merged[k] = v
	}
	for k, v := range t.With {
		merged[k] = v
	}
	return merged
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EvaluateWhen renders a transition's `when:` predicate against context
// (which should already carry `result` for the just-completed step) and
// reports whether the transition fires. An empty `when:` always fires.
func EvaluateWhen(t *playbook.Transition, context map[string]interface{}, eval *render.Evaluator) bool {
	return eval.EvaluatePredicate(t.When, context)
}
