package execution

import "errors"

var (
	// ErrNoStartStep is returned when a catalog entry's playbook has no
	// step named "start" — Validate should already reject this at
	// register time, so seeing it here means the stored payload and the
	// validated structure have diverged.
	ErrNoStartStep = errors.New("execution: playbook has no start step")
	// ErrNotAPlaybook is returned when Execute is asked to run a catalog
	// entry that isn't a registered Playbook (a Tool or Model).
	ErrNotAPlaybook = errors.New("execution: catalog entry is not a playbook")
)
