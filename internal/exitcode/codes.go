// Package exitcode defines structured exit codes for genesisweb commands.
// Scripts that start or inspect workflow runs can branch on the code
// instead of parsing error messages.
//
// # Exit Code Ranges
//
//   - 0: Success
//   - 1-9: General errors (usage, internal, workflow failure)
//   - 10-19: Resource not found (configuration, file)
//   - 30-39: Network errors (listen failures)
//   - 50-59: Conflict/state errors
//
// # Usage
//
//	return exitcode.ConfigNotFound("nightly.yaml")   // Exit code 10
//	return exitcode.Wrap(exitcode.ErrBusy, "another server holds the lock", err)
//
//	code := exitcode.Code(err)  // ErrGeneral for non-coded errors
package exitcode

import (
	"errors"
	"fmt"
)

const (
	// Success indicates the command completed successfully.
	Success = 0

	// General errors (1-9)
	ErrGeneral  = 1 // General/unknown error
	ErrUsage    = 2 // Invalid arguments, flags or settings
	ErrInternal = 3 // Internal error (bug)
	ErrWorkflow = 4 // Workflow exited non-zero or failed to start

	// Resource not found (10-19)
	ErrConfigNotFound = 10 // Workflow configuration not found
	ErrFileNotFound   = 13 // File or path not found

	// Network (30-39)
	ErrNetwork = 30 // Listen or connection error

	// Conflict/state errors (50-59)
	ErrConflict      = 50 // Run already active or not running
	ErrAlreadyExists = 51 // Configuration already exists
	ErrBusy          = 52 // Another server holds the state directory
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't have a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// ConfigNotFound returns an error for a missing workflow configuration.
func ConfigNotFound(name string) *Error {
	return Newf(ErrConfigNotFound, "configuration not found: %s", name)
}

// FileNotFound returns an error for a missing file.
func FileNotFound(path string) *Error {
	return Newf(ErrFileNotFound, "file not found: %s", path)
}

// Busy returns an error when another process holds a resource.
func Busy(resource string) *Error {
	return Newf(ErrBusy, "%s is in use by another process", resource)
}

// WorkflowFailed returns an error for a workflow that exited with code.
func WorkflowFailed(name string, code int) *Error {
	return Newf(ErrWorkflow, "workflow %s exited with code %d", name, code)
}
