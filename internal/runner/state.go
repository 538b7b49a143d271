// Package runner supervises one external workflow process per session.
//
// A Session spawns the workflow with its configuration path, merges stdout
// and stderr into a single line stream collected into a linebuf.Buffer,
// classifies every line to track whether the workflow is waiting for an
// answer, and relays answers to the workflow's stdin.
package runner

import "fmt"

// State is the lifecycle state of a session.
type State int

const (
	// Idle means no process has been started, or the last one was stopped.
	Idle State = iota
	// Running means a workflow process is alive.
	Running
	// AwaitingInput means the workflow printed a prompt and blocks on stdin.
	AwaitingInput
	// Finished means the workflow exited and its output has been drained.
	Finished
	// Error means the last start attempt failed to spawn a process.
	Error
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case AwaitingInput:
		return "awaiting_input"
	case Finished:
		return "finished"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= Error; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Live reports whether a process handle exists in this state.
func (s State) Live() bool {
	return s == Running || s == AwaitingInput
}

// Terminal reports whether a subscriber has nothing further to wait for.
func (s State) Terminal() bool {
	return s == Idle || s == Finished || s == Error
}
