// Package errs defines the stable error taxonomy surfaced by the engine.
// Every externally visible failure carries a machine-readable code plus a
// human-readable message; internal retries are invisible to callers.
package errs

import (
	"errors"
	"fmt"
)

// Stable error codes.
const (
	CodeMemory      = "MEMORY_ERROR"
	CodeQuery       = "QUERY_ERROR"
	CodeBreakerOpen = "CIRCUIT_BREAKER_OPEN"
	CodeTimeout     = "TIMEOUT"
)

// ErrBreakerOpen is the sentinel wrapped by every breaker-open error so
// callers can match with errors.Is regardless of the attached message.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Error is a coded engine error. It wraps an optional cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Memory reports a store read/write failure.
func Memory(msg string, cause error) *Error {
	return &Error{Code: CodeMemory, Message: msg, Err: cause}
}

// Query reports a classification, decomposition or generation failure.
func Query(msg string, cause error) *Error {
	return &Error{Code: CodeQuery, Message: msg, Err: cause}
}

// BreakerOpen reports a fail-fast rejection while the breaker is open.
func BreakerOpen(msg string) *Error {
	return &Error{Code: CodeBreakerOpen, Message: msg, Err: ErrBreakerOpen}
}

// Timeout reports a request-level deadline overrun.
func Timeout(msg string, cause error) *Error {
	return &Error{Code: CodeTimeout, Message: msg, Err: cause}
}

// CodeOf extracts the stable code from err, or "" when err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
