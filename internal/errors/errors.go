package errors

import (
	"errors"
	"fmt"
	"time"
)

// HintsError is the base interface for all errors produced by this module.
type HintsError interface {
	error
	IsHintsError() bool
}

// Compile-time verification that all error types implement HintsError.
var (
	_ HintsError = (*SpawnError)(nil)
	_ HintsError = (*ProcessError)(nil)
	_ HintsError = (*LineDecodeError)(nil)
	_ HintsError = (*QueryTimeoutError)(nil)
	_ HintsError = (*ResponseFileError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrSessionInvalid indicates the session was invalidated by a query
	// timeout against a dead process. Invalid sessions never recover;
	// discard the session and request a new one.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrSessionClosed indicates the session has been closed and cannot be reused.
	ErrSessionClosed = errors.New("session closed")

	// ErrQueryTimeout indicates no response arrived within the query timeout.
	ErrQueryTimeout = errors.New("query timeout")

	// ErrDispatcherClosed indicates the async dispatcher has been closed.
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrRegistryClosed indicates the registry has been closed.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrTransportNotStarted indicates the transport process has not been started.
	ErrTransportNotStarted = errors.New("transport not started")

	// ErrStdinClosed indicates the child's stdin was already closed.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrNoResponseFile indicates response-file discovery found no *.rsp file.
	ErrNoResponseFile = errors.New("no response file found")
)

// SpawnError indicates the hints server process could not be started.
type SpawnError struct {
	Bin string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Bin, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsHintsError implements HintsError.
func (e *SpawnError) IsHintsError() bool { return true }

// ProcessError indicates the hints server process exited abnormally.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hints server exited (code %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("hints server exited (code %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsHintsError implements HintsError.
func (e *ProcessError) IsHintsError() bool { return true }

// LineDecodeError indicates a response line was not valid JSON.
// The raw line is preserved for logging.
type LineDecodeError struct {
	Line string
	Err  error
}

func (e *LineDecodeError) Error() string {
	return fmt.Sprintf("failed to decode response line: %v", e.Err)
}

func (e *LineDecodeError) Unwrap() error {
	return e.Err
}

// IsHintsError implements HintsError.
func (e *LineDecodeError) IsHintsError() bool { return true }

// QueryTimeoutError indicates a query received no response within the bound.
// It wraps ErrQueryTimeout so callers can match with errors.Is.
type QueryTimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query %q timed out after %s", e.Command, e.Timeout)
}

func (e *QueryTimeoutError) Unwrap() error {
	return ErrQueryTimeout
}

// IsHintsError implements HintsError.
func (e *QueryTimeoutError) IsHintsError() bool { return true }

// ResponseFileError indicates a response file could not be read or located.
type ResponseFileError struct {
	Path string
	Err  error
}

func (e *ResponseFileError) Error() string {
	return fmt.Sprintf("response file %s: %v", e.Path, e.Err)
}

func (e *ResponseFileError) Unwrap() error {
	return e.Err
}

// IsHintsError implements HintsError.
func (e *ResponseFileError) IsHintsError() bool { return true }
