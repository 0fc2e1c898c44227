package engine

import (
	"errors"
	"fmt"
)

// ErrEmptyUpload is returned without contacting the engine when there is nothing to send
var ErrEmptyUpload = errors.New("engine upload: empty dataset")

// Kind classifies an engine failure for the orchestrator
type Kind string

const (
	// KindUnavailable covers transport errors, timeouts, 5xx responses, an open breaker and malformed bodies
	KindUnavailable Kind = "unavailable"

	// KindRejected is a 4xx response carrying a well-formed engine error
	KindRejected Kind = "rejected"
)

// Error is returned by every Client operation that fails
type Error struct {
	Op         string // upload or compute
	StatusCode int    // 0 when no response was received
	Kind       Kind
	Message    string
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("engine %s: %s", e.Op, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

func unavailable(op string, status int, message string, err error) *Error {
	return &Error{Op: op, StatusCode: status, Kind: KindUnavailable, Message: message, Err: err}
}

func rejected(op string, status int, message string) *Error {
	return &Error{Op: op, StatusCode: status, Kind: KindRejected, Message: message}
}

// IsRejected reports whether err is a well-formed engine rejection
func IsRejected(err error) bool {
	var engineErr *Error
	return errors.As(err, &engineErr) && engineErr.Kind == KindRejected
}

// IsUnavailable reports whether err means the engine could not serve the call
func IsUnavailable(err error) bool {
	var engineErr *Error
	return errors.As(err, &engineErr) && engineErr.Kind == KindUnavailable
}

// AsError extracts the engine error from err
func AsError(err error) (*Error, bool) {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr, true
	}
	return nil, false
}
