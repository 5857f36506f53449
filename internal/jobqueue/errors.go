package jobqueue

import "errors"

var (
	// ErrNotFound is returned when a queue_id doesn't exist.
	ErrNotFound = errors.New("jobqueue: entry not found")
	// ErrNoWork is returned by Lease when nothing is available to claim.
	ErrNoWork = errors.New("jobqueue: no work available")
)
