// Package errors provides error handling for foreman.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrQueueFull) {
//	    // reject admission
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Mark attaches a reference error to err so errors.Is(err, reference)
// holds while the original cause chain stays intact. Used to tag
// outbound failures with their taxonomy sentinel.
var Mark = crdb.Mark

// GetStack extracts a reportable stack trace from an error, if present.
var GetStack = crdb.GetReportableStackTrace

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Dispatch error taxonomy. These sentinels classify every failure the
// scheduling core can produce; use errors.Is() to branch on them and
// errors.Wrap() to add context while preserving the kind.
var (
	// ErrQueueFull rejects admission when the queue is at max_queue_size.
	ErrQueueFull = New("queue is full")

	// ErrDuplicateID indicates a job id was enqueued twice.
	ErrDuplicateID = New("duplicate job id")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = New("not found")

	// ErrWorkerNotFound indicates the bound worker vanished between
	// selection and dispatch.
	ErrWorkerNotFound = New("worker not found")

	// ErrWorkerBusy indicates a mutation that requires an unoccupied worker.
	ErrWorkerBusy = New("worker has a running job")

	// ErrExecutionTimeout indicates the outbound call hit the task deadline.
	ErrExecutionTimeout = New("task execution timeout")

	// ErrQueueTimeout indicates a job aged past queue_timeout while pending.
	ErrQueueTimeout = New("queue timeout")

	// ErrTransport indicates the outbound call failed before an HTTP
	// response was received.
	ErrTransport = New("transport error")

	// ErrRemote indicates the worker answered with a non-2xx status.
	ErrRemote = New("remote error")

	// ErrCancelled indicates the job was cancelled by an admin request.
	ErrCancelled = New("cancelled")

	// ErrNotRetryable rejects a retry of a job that is not terminally
	// failed or timed out.
	ErrNotRetryable = New("not retryable")

	// ErrInvalidConfig rejects a configuration value outside its range.
	ErrInvalidConfig = New("invalid config")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
// Also provides backward compatibility with string-based "not found" errors.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrNotFound) || Is(err, ErrWorkerNotFound) {
		return true
	}
	errMsg := err.Error()
	return len(errMsg) >= 9 && (errMsg == "not found" ||
		errMsg[len(errMsg)-9:] == "not found" ||
		len(errMsg) > 10 && errMsg[:10] == "not found:")
}

// IsQueueFull checks if an error is or wraps ErrQueueFull.
func IsQueueFull(err error) bool {
	return err != nil && Is(err, ErrQueueFull)
}

// IsWorkerBusy checks if an error is or wraps ErrWorkerBusy.
func IsWorkerBusy(err error) bool {
	return err != nil && Is(err, ErrWorkerBusy)
}

// IsInvalidConfig checks if an error is or wraps ErrInvalidConfig.
func IsInvalidConfig(err error) bool {
	return err != nil && Is(err, ErrInvalidConfig)
}

// IsNotRetryable checks if an error is or wraps ErrNotRetryable.
func IsNotRetryable(err error) bool {
	return err != nil && Is(err, ErrNotRetryable)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidConfigError creates an invalid-config error naming the
// offending field.
func NewInvalidConfigError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidConfig, Newf(format, args...).Error())
}
