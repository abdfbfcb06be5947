package engine

import (
	"errors"
	"fmt"
)

// Error is an engine-level failure with a category code.
//
// Compile and runtime failures of user code never reach the controller as
// errors: they are rendered to the error stream. Error values are what the
// engine itself reports, in replies and to the caller of Run.
type Error struct {
	// Code identifies the category.
	Code ErrorCode

	// Verb is the request being handled, if any.
	Verb string

	// Message is a human-readable description.
	Message string

	// ExitCode is the requested process status for ErrCodeExit.
	ExitCode int
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeSyntax indicates source that failed to compile.
	ErrCodeSyntax ErrorCode = "SYNTAX"

	// ErrCodeCancelled indicates a unit stopped by request.
	ErrCodeCancelled ErrorCode = "CANCELLED"

	// ErrCodeRuntime indicates an exception raised by user code.
	ErrCodeRuntime ErrorCode = "RUNTIME"

	// ErrCodeExit indicates user code asked the process to exit.
	ErrCodeExit ErrorCode = "EXIT"

	// ErrCodeProtocol indicates a malformed request or one that the
	// current state does not allow.
	ErrCodeProtocol ErrorCode = "PROTOCOL"

	// ErrCodeTask indicates a task that failed or could not be found.
	ErrCodeTask ErrorCode = "TASK"
)

func (e *Error) Error() string {
	if e.Verb != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Verb, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *Error by code, so errors.Is(err, ErrExit) holds for
// every exit whatever its status.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Message == ""
}

var (
	// ErrExit is returned by Run after a controlled exit. Use ExitCode for
	// the status.
	ErrExit = &Error{Code: ErrCodeExit}

	// ErrBusy answers quiet requests that arrive while a unit is running.
	ErrBusy = errors.New("engine busy")

	// ErrDisconnected is returned by Run when the transport went away.
	ErrDisconnected = errors.New("engine: transport disconnected")
)

func newError(code ErrorCode, verb, format string, args ...any) *Error {
	return &Error{Code: code, Verb: verb, Message: fmt.Sprintf(format, args...)}
}

// NewExitError returns the error Run reports for a controlled exit.
func NewExitError(code int, reason string) *Error {
	return &Error{Code: ErrCodeExit, Message: reason, ExitCode: code}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsSyntaxError reports whether err is a compile failure.
func IsSyntaxError(err error) bool { return hasCode(err, ErrCodeSyntax) }

// IsCancelled reports whether err is a stopped unit.
func IsCancelled(err error) bool { return hasCode(err, ErrCodeCancelled) }

// IsRuntimeError reports whether err is a user-code exception.
func IsRuntimeError(err error) bool { return hasCode(err, ErrCodeRuntime) }

// IsExit reports whether err is a controlled exit.
func IsExit(err error) bool { return hasCode(err, ErrCodeExit) }

// IsProtocolError reports whether err is a rejected request.
func IsProtocolError(err error) bool { return hasCode(err, ErrCodeProtocol) }

// IsTaskError reports whether err came from a task.
func IsTaskError(err error) bool { return hasCode(err, ErrCodeTask) }

// ExitCode extracts the exit status from a controlled-exit error. It
// returns 0 and false for any other error.
func ExitCode(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Code == ErrCodeExit {
		return e.ExitCode, true
	}
	return 0, false
}
