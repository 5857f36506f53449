package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl-sub007/internal/eventlog"
	"github.com/noetl/noetl-sub007/internal/loop"
	"github.com/noetl/noetl-sub007/internal/playbook"
	"github.com/noetl/noetl-sub007/internal/render"
)

func step(name, typ string, next ...playbook.Transition) playbook.Step {
	fields := map[string]interface{}{}
	if typ != "" {
		fields["type"] = typ
	}
	if typ == "python" {
		fields["code"] = "pass"
	}
	return playbook.Step{Name: name, Next: next, Fields: fields}
}

func linearPlaybook() *playbook.Playbook {
	return &playbook.Playbook{
		Metadata: playbook.Metadata{Path: "p"},
		Workflow: []playbook.Step{
			step("start", "", playbook.Transition{Step: "a"}),
			step("a", "http", playbook.Transition{Step: "end"}),
			step("end", ""),
		},
	}
}

func findKind(decisions []Decision, kind Kind) []Decision {
	var out []Decision
	for _, d := range decisions {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

func TestEvaluateReturnsNilWhenAlreadyFinalized(t *testing.T) {
	in := Input{
		Playbook:    linearPlaybook(),
		ExecutionID: 1,
		Events:      []eventlog.Event{{EventType: string(eventlog.EventExecutionComplete)}},
	}
	decisions := Evaluate(in, render.NewEvaluator(16))
	assert.Nil(t, decisions)
}

func TestEvaluateAdvancesThroughControlStepToFinalize(t *testing.T) {
	in := Input{
		Playbook:    linearPlaybook(),
		ExecutionID: 1,
		Events: []eventlog.Event{
			{EventID: 1, EventType: string(eventlog.EventActionCompleted), NodeName: "a", Status: eventlog.StatusCompleted},
		},
	}
	decisions := Evaluate(in, render.NewEvaluator(16))

	completions := findKind(decisions, KindEmitEvent)
	require.Len(t, completions, 2)
	assert.Equal(t, "a", completions[0].Event.NodeName)
	assert.Equal(t, "end", completions[1].Event.NodeName)

	finals := findKind(decisions, KindFinalize)
	require.Len(t, finals, 1)
}

func TestEvaluateEnqueuesNextActionableStep(t *testing.T) {
	pb := &playbook.Playbook{
		Metadata: playbook.Metadata{Path: "p"},
		Workflow: []playbook.Step{
			step("start", "", playbook.Transition{Step: "a"}),
			step("a", "http", playbook.Transition{Step: "b"}),
			step("b", "http", playbook.Transition{Step: "end"}),
			step("end", ""),
		},
	}
	in := Input{
		Playbook:    pb,
		ExecutionID: 1,
		Events: []eventlog.Event{
			{EventID: 1, EventType: string(eventlog.EventActionCompleted), NodeName: "a", Status: eventlog.StatusCompleted},
		},
	}
	decisions := Evaluate(in, render.NewEvaluator(16))

	enqueues := findKind(decisions, KindEnqueueJob)
	require.Len(t, enqueues, 1)
	assert.Equal(t, "b", enqueues[0].Enqueue.NodeName)
}

func TestEvaluateIsIdempotentOnceStepCompleted(t *testing.T) {
	in := Input{
		Playbook:    linearPlaybook(),
		ExecutionID: 1,
		Events: []eventlog.Event{
			{EventID: 1, EventType: string(eventlog.EventActionCompleted), NodeName: "a", Status: eventlog.StatusCompleted},
			{EventID: 2, EventType: string(eventlog.EventStepCompleted), NodeName: "a"},
			{EventID: 3, EventType: string(eventlog.EventStepCompleted), NodeName: "end"},
			{EventID: 4, EventType: string(eventlog.EventExecutionComplete)},
		},
	}
	decisions := Evaluate(in, render.NewEvaluator(16))
	assert.Nil(t, decisions)
}

func TestEvaluateConditionalTransitionUsesStepResult(t *testing.T) {
	pb := &playbook.Playbook{
		Metadata: playbook.Metadata{Path: "p"},
		Workflow: []playbook.Step{
			step("start", "", playbook.Transition{Step: "classify"}),
			step("classify", "http",
				playbook.Transition{Step: "yes", When: "{{ result.ok }}"},
				playbook.Transition{Step: "no", When: "{{ !result.ok }}"},
			),
			step("yes", "http", playbook.Transition{Step: "end"}),
			step("no", "http", playbook.Transition{Step: "end"}),
			step("end", ""),
		},
	}
	in := Input{
		Playbook:    pb,
		ExecutionID: 1,
		Events: []eventlog.Event{
			{EventID: 1, EventType: string(eventlog.EventActionCompleted), NodeName: "classify", Status: eventlog.StatusCompleted, Result: []byte(`{"ok":true}`)},
		},
	}
	decisions := Evaluate(in, render.NewEvaluator(16))

	enqueues := findKind(decisions, KindEnqueueJob)
	require.Len(t, enqueues, 1)
	assert.Equal(t, "yes", enqueues[0].Enqueue.NodeName)
}

func iteratorStep(name string) playbook.Step {
	return playbook.Step{
		Name: name,
		Fields: map[string]interface{}{
			"type":       "iterator",
			"collection": []interface{}{1, 2, 3},
			"element":    "x",
			"mode":       "async",
			"task":       map[string]interface{}{"type": "http", "url": "http://example.com"},
		},
	}
}

func TestEvaluateFansOutIteratorOnFirstEntry(t *testing.T) {
	pb := &playbook.Playbook{
		Metadata: playbook.Metadata{Path: "p"},
		Workflow: []playbook.Step{
			step("start", "", playbook.Transition{Step: "a"}),
			step("a", "http", playbook.Transition{Step: "items"}),
			iteratorStep("items"),
			step("end", ""),
		},
	}
	in := Input{
		Playbook:    pb,
		ExecutionID: 1,
		Events: []eventlog.Event{
			{EventID: 1, EventType: string(eventlog.EventActionCompleted), NodeName: "a", Status: eventlog.StatusCompleted},
		},
	}
	decisions := Evaluate(in, render.NewEvaluator(16))

	iterations := findKind(decisions, KindEmitEvent)
	var loopIterations int
	for _, d := range iterations {
		if d.Event.EventType == string(eventlog.EventLoopIteration) {
			loopIterations++
		}
	}
	assert.Equal(t, 3, loopIterations)

	enqueues := findKind(decisions, KindEnqueueJob)
	assert.Len(t, enqueues, 3)
}

func TestEvaluateAggregatesIteratorOnceAllResultsIn(t *testing.T) {
	pb := &playbook.Playbook{
		Metadata: playbook.Metadata{Path: "p"},
		Workflow: []playbook.Step{
			iteratorStep("items"),
		},
	}
	loopID := loop.ID(1, "items")
	idx0, idx1, idx2 := 0, 1, 2
	in := Input{
		Playbook:    pb,
		ExecutionID: 1,
		Events: []eventlog.Event{
			{EventType: string(eventlog.EventLoopIteration), NodeName: "items", LoopID: loopID, CurrentIndex: &idx0},
			{EventType: string(eventlog.EventLoopIteration), NodeName: "items", LoopID: loopID, CurrentIndex: &idx1},
			{EventType: string(eventlog.EventLoopIteration), NodeName: "items", LoopID: loopID, CurrentIndex: &idx2},
			{EventType: string(eventlog.EventResult), NodeName: "items", LoopID: loopID, CurrentIndex: &idx0, Result: []byte(`1`)},
			{EventType: string(eventlog.EventResult), NodeName: "items", LoopID: loopID, CurrentIndex: &idx1, Result: []byte(`2`)},
			{EventType: string(eventlog.EventResult), NodeName: "items", LoopID: loopID, CurrentIndex: &idx2, Result: []byte(`3`)},
		},
	}
	decisions := Evaluate(in, render.NewEvaluator(16))

	var sawActionCompleted, sawLoopCompleted bool
	for _, d := range decisions {
		if d.Kind != KindEmitEvent {
			continue
		}
		switch d.Event.EventType {
		case string(eventlog.EventActionCompleted):
			sawActionCompleted = true
			assert.Equal(t, 3, d.Event.Result["count"])
		case string(eventlog.EventLoopCompleted):
			sawLoopCompleted = true
		}
	}
	assert.True(t, sawActionCompleted)
	assert.True(t, sawLoopCompleted)
}

func TestBootstrapDispatchesFirstActionableStepThroughControlStart(t *testing.T) {
	in := Input{
		Playbook:    linearPlaybook(),
		ExecutionID: 1,
		Workload:    map[string]interface{}{"x": 1},
		Events:      []eventlog.Event{{EventType: string(eventlog.EventExecutionStart)}},
	}
	decisions := Bootstrap(in, render.NewEvaluator(16))

	enqueues := findKind(decisions, KindEnqueueJob)
	require.Len(t, enqueues, 1)
	assert.Equal(t, "a", enqueues[0].Enqueue.NodeName)

	completions := findKind(decisions, KindEmitEvent)
	require.Len(t, completions, 1)
	assert.Equal(t, "start", completions[0].Event.NodeName)
}

func TestBootstrapDispatchesActionableStartDirectly(t *testing.T) {
	pb := &playbook.Playbook{
		Metadata: playbook.Metadata{Path: "p"},
		Workflow: []playbook.Step{
			step("start", "http", playbook.Transition{Step: "end"}),
			step("end", ""),
		},
	}
	in := Input{
		Playbook:    pb,
		ExecutionID: 1,
		Events:      []eventlog.Event{{EventType: string(eventlog.EventExecutionStart)}},
	}
	decisions := Bootstrap(in, render.NewEvaluator(16))

	enqueues := findKind(decisions, KindEnqueueJob)
	require.Len(t, enqueues, 1)
	assert.Equal(t, "start", enqueues[0].Enqueue.NodeName)
	assert.Empty(t, findKind(decisions, KindEmitEvent))
}

func TestBootstrapFinalizesImmediatelyWhenStartLeadsStraightToEnd(t *testing.T) {
	pb := &playbook.Playbook{
		Metadata: playbook.Metadata{Path: "p"},
		Workflow: []playbook.Step{
			step("start", "", playbook.Transition{Step: "end"}),
			step("end", ""),
		},
	}
	in := Input{
		Playbook:    pb,
		ExecutionID: 1,
		Events:      []eventlog.Event{{EventType: string(eventlog.EventExecutionStart)}},
	}
	decisions := Bootstrap(in, render.NewEvaluator(16))

	require.Len(t, findKind(decisions, KindFinalize), 1)
}

func TestEvaluateIteratorFanInWaitsForAllIterations(t *testing.T) {
	pb := &playbook.Playbook{
		Metadata: playbook.Metadata{Path: "p"},
		Workflow: []playbook.Step{
			iteratorStep("items"),
		},
	}
	loopID := loop.ID(1, "items")
	idx0, idx1, idx2 := 0, 1, 2
	in := Input{
		Playbook:    pb,
		ExecutionID: 1,
		Events: []eventlog.Event{
			{EventType: string(eventlog.EventLoopIteration), NodeName: "items", LoopID: loopID, CurrentIndex: &idx0},
			{EventType: string(eventlog.EventLoopIteration), NodeName: "items", LoopID: loopID, CurrentIndex: &idx1},
			{EventType: string(eventlog.EventLoopIteration), NodeName: "items", LoopID: loopID, CurrentIndex: &idx2},
			{EventType: string(eventlog.EventResult), NodeName: "items", LoopID: loopID, CurrentIndex: &idx0, Result: []byte(`1`)},
		},
	}
	decisions := Evaluate(in, render.NewEvaluator(16))
	assert.Empty(t, decisions)
}
