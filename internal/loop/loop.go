// Package loop provides the pure computational helpers behind iterator
// step fan-out/fan-in: resolving the element collection, naming child
// iterations, and detecting when every iteration has reported a result so
// the broker can emit a single aggregated completion. It holds no I/O —
// internal/broker drives these helpers against an event-log snapshot and
// turns their output into decisions.
package loop

import (
	"encoding/json"
	"fmt"

	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/playbook"
	"github.com/noetl/noetl-sub007/internal/render"
)

// Iteration is one element of a resolved, filtered, limited collection,
// paired with the node ID its worker job (or child execution) will carry.
type Iteration struct {
	Index int
	Item  interface{}
	NodeID string
}

// ID returns the loop identifier shared by every iteration and the final
// aggregate: "{execution_id}:{step_name}".
func ID(executionID int64, stepName string) string {
	return fmt.Sprintf("%d:%s", executionID, stepName)
}

func nodeID(executionID int64, stepName string, index int) string {
	return fmt.Sprintf("%d-step-%s-iter-%d", executionID, stepName, index)
}

// ResolveCollection evaluates an iterator step's `collection:` (a literal
// array, or a template expression yielding one), applies `where:` and
// `limit:` in that order, and returns the final ordered element list.
func ResolveCollection(step *playbook.Step, context map[string]interface{}, eval *render.Evaluator) ([]interface{}, error) {
	raw, _ := step.Field("collection")

	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case string:
		value, err := eval.EvaluateExpr(trimTag(v), context)
		if err != nil {
			return nil, fmt.Errorf("loop: resolve collection: %w", err)
		}
		asSlice, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("loop: collection expression did not yield an array")
		}
		items = asSlice
	default:
		items = nil
	}

	element, _ := step.Field("element")
	elementName, _ := element.(string)

	if where, ok := step.Field("where"); ok {
		whereExpr, _ := where.(string)
		if whereExpr != "" {
			filtered := items[:0:0]
			for _, item := range items {
				itemCtx := cloneContext(context)
				if elementName != "" {
					itemCtx[elementName] = item
				}
				if eval.EvaluatePredicate(whereExpr, itemCtx) {
					filtered = append(filtered, item)
				}
			}
			items = filtered
		}
	}

	if limitRaw, ok := step.Field("limit"); ok {
		if limit, ok := asInt(limitRaw); ok && limit >= 0 && limit < len(items) {
			items = items[:limit]
		}
	}

	return items, nil
}

func trimTag(s string) string {
	s = trimSpace(s)
	if len(s) >= 4 && s[:2] == "{{" && s[len(s)-2:] == "}}" {
		return trimSpace(s[2 : len(s)-2])
	}
	return s
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n') {
		end--
	}
	return s[start:end]
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func cloneContext(context map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(context)+1)
	for k, v := range context {
		out[k] = v
	}
	return out
}

// BuildIterations pairs each resolved element with its node ID.
func BuildIterations(executionID int64, stepName string, items []interface{}) []Iteration {
	out := make([]Iteration, len(items))
	for i, item := range items {
		out[i] = Iteration{Index: i, Item: item, NodeID: nodeID(executionID, stepName, i)}
	}
	return out
}

// ExistingIterationCount counts loop_iteration events already emitted for a
// loop, so the broker can tell a fresh iterator step from one already
// fanned out.
func ExistingIterationCount(events []eventlog.Event, loopID string) int {
	n := 0
	for _, e := range events {
		if e.EventType == string(eventlog.EventLoopIteration) && e.LoopID == loopID {
			n++
		}
	}
	return n
}

// IsAggregated reports whether loop_completed has already been emitted for
// a loop — the fan-in guarantee that it fires exactly once.
func IsAggregated(events []eventlog.Event, loopID string) bool {
	for _, e := range events {
		if e.EventType == string(eventlog.EventLoopCompleted) && e.LoopID == loopID {
			return true
		}
	}
	return false
}

// CompletedResults scans per-iteration `result` events for a loop and
// returns the latest non-empty result per current_index.
func CompletedResults(events []eventlog.Event, loopID string) map[int]json.RawMessage {
	results := map[int]json.RawMessage{}
	for _, e := range events {
		if e.EventType != string(eventlog.EventResult) || e.LoopID != loopID {
			continue
		}
		if e.CurrentIndex == nil || len(e.Result) == 0 || string(e.Result) == "null" {
			continue
		}
		results[*e.CurrentIndex] = e.Result
	}
	return results
}

// Aggregate reports whether every expected index 0..expected-1 has a
// recorded result and, if so, returns them in index order.
func Aggregate(results map[int]json.RawMessage, expected int) (bool, []json.RawMessage) {
	if expected == 0 {
		return true, nil
	}
	ordered := make([]json.RawMessage, expected)
	for i := 0; i < expected; i++ {
		r, ok := results[i]
		if !ok {
			return false, nil
		}
		ordered[i] = r
	}
	return true, ordered
}

// ResolveReturnValue implements the child-execution result fallback chain:
// prefer execution_complete's result, then the configured return_step's
// action_completed result, then the last meaningful action_completed in
// the child's event history.
func ResolveReturnValue(events []eventlog.Event, returnStep string) json.RawMessage {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == string(eventlog.EventExecutionComplete) && len(events[i].Result) > 0 {
			return events[i].Result
		}
	}

	if returnStep != "" {
		for i := len(events) - 1; i >= 0; i-- {
			e := events[i]
			if e.EventType == string(eventlog.EventActionCompleted) && e.NodeName == returnStep && len(e.Result) > 0 {
				return e.Result
			}
		}
	}

	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.EventType == string(eventlog.EventActionCompleted) && len(e.Result) > 0 && string(e.Result) != "null" {
			return e.Result
		}
	}

	return nil
}
