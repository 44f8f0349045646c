package replay

import "errors"

var (
	// ErrTargetNotFound means the resolution chain exhausted its polling
	// budget without finding a usable element for a target reference.
	ErrTargetNotFound = errors.New("replay: target not found")

	// ErrNoFormFound means a submit step had no explicit target and the
	// page has neither a focused form nor any form at all.
	ErrNoFormFound = errors.New("replay: no form found")
)
