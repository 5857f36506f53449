package eventlog

import "errors"

var (
	// ErrUnknownEventType is returned by Emit for an EventType outside the
	// closed set.
	ErrUnknownEventType = errors.New("eventlog: unknown event type")
	// ErrMissingExecutionID is returned by Emit when ExecutionID is zero.
	ErrMissingExecutionID = errors.New("eventlog: missing execution_id")
	// ErrNotFound is returned when a lookup finds no matching event.
	ErrNotFound = errors.New("eventlog: event not found")
)
