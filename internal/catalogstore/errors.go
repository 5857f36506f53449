package catalogstore

import "errors"

var (
	// ErrNotFound is returned when a catalog entry doesn't exist by ID or
	// by (path, version).
	ErrNotFound = errors.New("catalogstore: entry not found")
	// ErrInvalidPlaybook wraps a YAML parse or structural validation
	// failure surfaced synchronously at register time.
	ErrInvalidPlaybook = errors.New("catalogstore: invalid playbook")
	// ErrMissingPath is returned when neither metadata.path nor
	// metadata.name is present.
	ErrMissingPath = errors.New("catalogstore: missing path")
)
