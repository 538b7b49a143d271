package runner

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrAlreadyRunning is returned by Start while a process is alive.
	ErrAlreadyRunning = errors.New("workflow already running")

	// ErrNotRunning is returned by Send when there is no live process to
	// write to.
	ErrNotRunning = errors.New("workflow not running")

	// ErrSessionClosed is returned by Start after Close.
	ErrSessionClosed = errors.New("session closed")
)

// SpawnError reports that the workflow process could not be started.
type SpawnError struct {
	ID      string
	Command []string
	Err     error
}

// Error returns the error message.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting workflow for %s (%s): %v", e.ID, strings.Join(e.Command, " "), e.Err)
}

// Unwrap returns the underlying OS error.
func (e *SpawnError) Unwrap() error {
	return e.Err
}
