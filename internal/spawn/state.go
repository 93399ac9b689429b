// Package spawn manages the long-lived spawn helper process and the
// request/response protocol used to create new application workers.
package spawn

// State represents the current state of the managed helper process.
type State int

const (
	// StateNoHelper means no helper process is running or tracked.
	StateNoHelper State = iota

	// StateStarting indicates a helper process is being created.
	StateStarting

	// StateRunning indicates the helper is believed alive and usable.
	StateRunning

	// StateDead indicates the helper (or its channel) is unusable and will
	// be rebuilt on the next spawn request.
	StateDead
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNoHelper:
		return "no-helper"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// IsUsable returns true if a spawn request could proceed without first
// rebuilding the helper.
func (s State) IsUsable() bool {
	return s == StateRunning
}
