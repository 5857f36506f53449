// Package broker is the execution's state-advancement function:
// evaluate(playbook, event log) -> decisions. It is a synchronous, pure
// function — no I/O, no locking — per the re-architecture called for by
// spec's Design Notes: deeply nested async completion-handling in the
// original engine is replaced here with a single pass over an in-memory
// event slice that returns a list of decisions for a thin transactional
// driver to commit. Calling Evaluate N times against the same committed
// state yields the same decisions as calling it once.
package broker

// Kind distinguishes the three things a broker pass can decide to do.
type Kind string

const (
	KindEmitEvent Kind = "emit_event"
	KindEnqueueJob Kind = "enqueue_job"
	KindFinalize   Kind = "finalize_execution"
)

// Decision is the sum type the broker emits. Exactly one of Event, Enqueue,
// Finalize is set, matching Kind.
type Decision struct {
	Kind     Kind
	Event    *EventDraft
	Enqueue  *EnqueueDraft
	Finalize *FinalizeDraft
}

// EventDraft is an event ready to append to the log. EventID, ExecutionID
// and CatalogID are filled in by the driver, which knows the ID generator
// and is evaluating a specific execution.
type EventDraft struct {
	EventType     string
	NodeID        string
	NodeName      string
	NodeType      string
	Status        string
	Result        map[string]interface{}
	Context       map[string]interface{}
	Error         string
	ParentEventID *int64
	CurrentIndex  *int
	CurrentItem   interface{}
	LoopID        string
	LoopName      string
}

// EnqueueDraft is a task ready for jobqueue.Enqueue. The driver supplies
// ExecutionID/CatalogID.
type EnqueueDraft struct {
	NodeID      string
	NodeName    string
	Action      map[string]interface{}
	Context     map[string]interface{}
	Priority    int
	MaxAttempts int
}

// FinalizeDraft carries the rendered result (or failure) for
// execution_complete / execution_failed.
type FinalizeDraft struct {
	Failed     bool
	Result     map[string]interface{}
	Error      string
	FailedStep string
}
