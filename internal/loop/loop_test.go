package loop

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/playbook"
	"github.com/noetl/noetl-sub007/internal/render"
)

func iteratorStep(collection interface{}) *playbook.Step {
	return &playbook.Step{
		Name: "f",
		Fields: map[string]interface{}{
			"type":       "iterator",
			"collection": collection,
			"element":    "x",
			"mode":       "async",
		},
	}
}

func TestResolveCollectionLiteral(t *testing.T) {
	eval := render.NewEvaluator(16)
	step := iteratorStep([]interface{}{1, 2, 3})

	items, err := ResolveCollection(step, map[string]interface{}{}, eval)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, 2, 3}, items)
}

func TestResolveCollectionTemplate(t *testing.T) {
	eval := render.NewEvaluator(16)
	step := iteratorStep("{{ workload.items }}")
	ctx := map[string]interface{}{"workload": map[string]interface{}{"items": []interface{}{"a", "b"}}}

	items, err := ResolveCollection(step, ctx, eval)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, items)
}

func TestResolveCollectionAppliesWhereAndLimit(t *testing.T) {
	eval := render.NewEvaluator(16)
	step := iteratorStep([]interface{}{1, 2, 3, 4, 5})
	step.Fields["where"] = "{{ x > 2 }}"
	step.Fields["limit"] = 2

	items, err := ResolveCollection(step, map[string]interface{}{}, eval)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{3, 4}, items)
}

func TestBuildIterationsNamesNodes(t *testing.T) {
	iters := BuildIterations(100, "f", []interface{}{10, 20})
	require.Len(t, iters, 2)
	assert.Equal(t, "100-step-f-iter-0", iters[0].NodeID)
	assert.Equal(t, 1, iters[1].Index)
}

func TestAggregateRequiresAllIndices(t *testing.T) {
	partial := map[int]json.RawMessage{0: []byte(`10`), 2: []byte(`30`)}
	complete, ordered := Aggregate(partial, 3)
	assert.False(t, complete)
	assert.Nil(t, ordered)

	full := map[int]json.RawMessage{0: []byte(`10`), 1: []byte(`20`), 2: []byte(`30`)}
	complete, ordered = Aggregate(full, 3)
	assert.True(t, complete)
	assert.Equal(t, json.RawMessage(`10`), ordered[0])
}

func TestAggregateEmptyCollection(t *testing.T) {
	complete, ordered := Aggregate(map[int]json.RawMessage{}, 0)
	assert.True(t, complete)
	assert.Nil(t, ordered)
}

func TestExistingIterationCountAndAggregation(t *testing.T) {
	loopID := ID(1, "f")
	events := []eventlog.Event{
		{EventType: string(eventlog.EventLoopIteration), LoopID: loopID},
		{EventType: string(eventlog.EventLoopIteration), LoopID: loopID},
		{EventType: string(eventlog.EventLoopIteration), LoopID: "other"},
	}
	assert.Equal(t, 2, ExistingIterationCount(events, loopID))
	assert.False(t, IsAggregated(events, loopID))

	events = append(events, eventlog.Event{EventType: string(eventlog.EventLoopCompleted), LoopID: loopID})
	assert.True(t, IsAggregated(events, loopID))
}

func TestResolveReturnValuePrefersExecutionComplete(t *testing.T) {
	events := []eventlog.Event{
		{EventType: string(eventlog.EventActionCompleted), NodeName: "step1", Result: []byte(`{"a":1}`)},
		{EventType: string(eventlog.EventExecutionComplete), Result: []byte(`{"final":true}`)},
	}
	result := ResolveReturnValue(events, "")
	assert.JSONEq(t, `{"final":true}`, string(result))
}

func TestResolveReturnValueFallsBackToReturnStep(t *testing.T) {
	events := []eventlog.Event{
		{EventType: string(eventlog.EventActionCompleted), NodeName: "other", Result: []byte(`{"a":1}`)},
		{EventType: string(eventlog.EventActionCompleted), NodeName: "chosen", Result: []byte(`{"b":2}`)},
	}
	result := ResolveReturnValue(events, "chosen")
	assert.JSONEq(t, `{"b":2}`, string(result))
}

func TestResolveReturnValueFallsBackToLastMeaningful(t *testing.T) {
	events := []eventlog.Event{
		{EventType: string(eventlog.EventActionCompleted), NodeName: "a", Result: []byte(`{"a":1}`)},
		{EventType: string(eventlog.EventActionCompleted), NodeName: "b", Result: []byte(`null`)},
	}
	result := ResolveReturnValue(events, "")
	assert.JSONEq(t, `{"a":1}`, string(result))
}
