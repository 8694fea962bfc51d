// Package sys contains types used for interactions with the host operating
// system, decoupled from the core wazgo package so host functions can depend
// on it without an import cycle.
package sys

import (
	"context"
	"errors"
	"fmt"
)

// ExitCodeDeadlineExceeded is returned as an ExitError's exit code when a
// Context.Deadline expired before a call completed.
const ExitCodeDeadlineExceeded = uint32(1<<32 - 2)

// ExitCodeContextCanceled is returned as an ExitError's exit code when a
// Context was canceled before a call completed.
const ExitCodeContextCanceled = uint32(1<<32 - 1)

// ExitError implements error and is returned by api.Function's Call when a
// Module was closed mid-call, for example by a WASI guest's proc_exit or by
// the embedder calling api.Module.CloseWithExitCode.
//
// Note: ExitCode zero is normal termination, matching an os.Exit(0) guest.
type ExitError struct {
	exitCode uint32
}

// NewExitError returns an ExitError, stored on Module close so later
// ExportedFunction calls can observe it.
func NewExitError(exitCode uint32) *ExitError {
	return &ExitError{exitCode: exitCode}
}

// ExitCode returns the value set on Module CloseWithExitCode.
func (e *ExitError) ExitCode() uint32 {
	return e.exitCode
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	switch e.exitCode {
	case ExitCodeDeadlineExceeded:
		return "module closed with context deadline exceeded"
	case ExitCodeContextCanceled:
		return "module closed with context canceled"
	default:
		return fmt.Sprintf("module closed with exit_code(%d)", e.exitCode)
	}
}

// Is allows callers to compare an ExitError against context.DeadlineExceeded
// or context.Canceled, as well as another ExitError with the same exit code,
// via errors.Is.
func (e *ExitError) Is(target error) bool {
	switch {
	case target == context.DeadlineExceeded:
		return e.exitCode == ExitCodeDeadlineExceeded
	case target == context.Canceled:
		return e.exitCode == ExitCodeContextCanceled
	}
	var te *ExitError
	if errors.As(target, &te) {
		return te.exitCode == e.exitCode
	}
	return false
}
