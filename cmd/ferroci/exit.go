package main

import (
	"ferroci/internal/core"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitStall    = 3
	ExitCanceled = 130
)

// ExitError is an error that carries the process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) *ExitError {
	return &ExitError{Code: ExitUsage, Message: err.Error()}
}

// exitCode maps a terminal run status to the process exit code.
func exitCode(status core.RunStatus) int {
	switch status {
	case core.RunSuccess:
		return ExitOK
	case core.RunStall:
		return ExitStall
	case core.RunCanceled:
		return ExitCanceled
	default:
		return ExitFailure
	}
}
