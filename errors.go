package boohints

import "github.com/drslump/boohints/internal/errors"

// Re-export error types from internal package

// SpawnError indicates the hints server executable could not be started.
type SpawnError = errors.SpawnError

// ProcessError indicates the hints server process failed.
type ProcessError = errors.ProcessError

// LineDecodeError indicates a server output line could not be decoded.
type LineDecodeError = errors.LineDecodeError

// QueryTimeoutError indicates a query got no response in time.
type QueryTimeoutError = errors.QueryTimeoutError

// ResponseFileError indicates a compiler response file could not be used.
type ResponseFileError = errors.ResponseFileError

// HintsError is the base interface for all errors of this module.
type HintsError = errors.HintsError

// Re-export sentinel errors from internal package.
var (
	// ErrSessionInvalid indicates the session's server died mid-query and
	// the session now rejects everything.
	ErrSessionInvalid = errors.ErrSessionInvalid

	// ErrSessionClosed indicates the session has been closed.
	ErrSessionClosed = errors.ErrSessionClosed

	// ErrQueryTimeout indicates a query timed out waiting for a response.
	ErrQueryTimeout = errors.ErrQueryTimeout

	// ErrStdinClosed indicates a write raced with server shutdown.
	ErrStdinClosed = errors.ErrStdinClosed

	// ErrRegistryClosed indicates the registry has been closed.
	ErrRegistryClosed = errors.ErrRegistryClosed

	// ErrNoResponseFile indicates no compiler response file was found near
	// a source file.
	ErrNoResponseFile = errors.ErrNoResponseFile
)
