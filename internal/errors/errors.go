// Package errors provides centralized error definitions and error handling
// utilities for the quintet codebase. It defines domain-specific error types,
// sentinel errors, constructors with context wrapping, and classification
// helpers.
//
// The orchestrator distinguishes three broad failure classes:
//
//   - Configuration errors: invalid config file, provider, or role. Always
//     fatal and never partially applied.
//   - Terminal errors: the external terminal service rejected a request or a
//     terminal entered an error state. Fatal to the current run.
//   - Handoff errors: an agent finished without writing its response file, or
//     timed out while still working. Fatal to the current run but recoverable
//     via resume.
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrNoResponseFile) { ... }
//
//	var termErr *errors.TerminalError
//	if errors.As(err, &termErr) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Handoff-related sentinel errors
var (
	// ErrNoResponseFile indicates an agent reached idle/completed without
	// ever writing its response file (strict handoff mode).
	ErrNoResponseFile = New("agent did not write response file")
	// ErrResponseTimeout indicates the overall response timeout elapsed
	// while the terminal was still actively working.
	ErrResponseTimeout = New("timed out waiting for agent response")
)

// Terminal-related sentinel errors
var (
	// ErrTerminalFailed indicates a terminal entered the error state.
	ErrTerminalFailed = New("terminal entered error state")
	// ErrTerminalUnreachable indicates the terminal service no longer
	// recognizes a terminal ID (typically during resume verification).
	ErrTerminalUnreachable = New("terminal unreachable")
)

// State-related sentinel errors
var (
	// ErrStateNotFound indicates no persisted state file exists.
	ErrStateNotFound = New("state file not found")
)

// ConfigError represents a fatal configuration or validation failure.
// Configuration errors are reported to the operator and the process exits
// immediately; they are never partially applied.
type ConfigError struct {
	Message string
	Err     error
}

// NewConfigError creates a ConfigError with an optional underlying cause.
func NewConfigError(message string, err error) *ConfigError {
	return &ConfigError{Message: message, Err: err}
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// TerminalError represents a failure communicating with the external
// terminal service. These are surfaced as process-fatal and not retried.
type TerminalError struct {
	Op         string // the operation that failed (e.g. "create_terminal")
	TerminalID string // the terminal involved, if known
	Err        error
}

// NewTerminalError creates a TerminalError for the given operation.
func NewTerminalError(op, terminalID string, err error) *TerminalError {
	return &TerminalError{Op: op, TerminalID: terminalID, Err: err}
}

// Error returns the error message.
func (e *TerminalError) Error() string {
	if e.TerminalID != "" {
		return fmt.Sprintf("terminal %s: %s: %v", e.TerminalID, e.Op, e.Err)
	}
	return fmt.Sprintf("terminal service: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TerminalError) Unwrap() error { return e.Err }

// HandoffError represents a failure of the file-based response handoff for
// a specific role. The two handoff failure kinds (ErrNoResponseFile and
// ErrResponseTimeout) are distinguished by the wrapped sentinel.
type HandoffError struct {
	Role string
	Err  error
}

// NewHandoffError creates a HandoffError for the given role.
func NewHandoffError(role string, err error) *HandoffError {
	return &HandoffError{Role: role, Err: err}
}

// Error returns the error message.
func (e *HandoffError) Error() string {
	return fmt.Sprintf("handoff [%s]: %v", e.Role, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandoffError) Unwrap() error { return e.Err }

// StateError represents a failure persisting or loading run state.
type StateError struct {
	Op   string // "save" or "load"
	Path string
	Err  error
}

// NewStateError creates a StateError for the given operation and path.
func NewStateError(op, path string, err error) *StateError {
	return &StateError{Op: op, Path: path, Err: err}
}

// Error returns the error message.
func (e *StateError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StateError) Unwrap() error { return e.Err }

// IsRecoverable returns true if the error leaves behind state that a
// subsequent resume can pick up. Handoff failures are recoverable because
// state is persisted before each dispatch; configuration and terminal
// failures require operator intervention first.
func IsRecoverable(err error) bool {
	var handoffErr *HandoffError
	return As(err, &handoffErr)
}
