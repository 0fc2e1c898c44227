package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeValidation          ErrorType = "validation"
	ErrorTypeUnauthorized        ErrorType = "unauthorized"
	ErrorTypeConflict            ErrorType = "conflict"
	ErrorTypeUpstreamUnavailable ErrorType = "upstream_unavailable"
	ErrorTypeUpstreamRejected    ErrorType = "upstream_rejected"
	ErrorTypeInternal            ErrorType = "internal"
)

// DetailHint is the detail key carrying a remediation hint for the caller
const DetailHint = "hint"

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithHint attaches a human-readable remediation hint
func (e *DomainError) WithHint(hint string) *DomainError {
	return e.WithDetail(DetailHint, hint)
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is matching by type
var (
	ErrAuditNotFound     = NewDomainError(ErrorTypeNotFound, "audit not found", nil)
	ErrInvalidInput      = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrUnauthorized      = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrRunInProgress     = NewDomainError(ErrorTypeConflict, "a computation run is already in progress for this audit", nil)
	ErrEngineUnavailable = NewDomainError(ErrorTypeUpstreamUnavailable, "analytics engine unavailable", nil)
	ErrEngineRejected    = NewDomainError(ErrorTypeUpstreamRejected, "analytics engine rejected the request", nil)
	ErrInternal          = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// NewNotFound builds a not found error. Missing and not-owned resources share it.
func NewNotFound(resource string) *DomainError {
	return NewDomainError(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewValidation builds a validation error with optional field details
func NewValidation(message string, fields map[string]string) *DomainError {
	e := NewDomainError(ErrorTypeValidation, message, nil)
	for k, v := range fields {
		e.WithDetail(k, v)
	}
	return e
}

// NewConflict builds a conflict error
func NewConflict(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, err)
}

// NewUpstreamUnavailable builds an upstream unavailable error with a hint
func NewUpstreamUnavailable(message, hint string, err error) *DomainError {
	return NewDomainError(ErrorTypeUpstreamUnavailable, message, err).WithHint(hint)
}

// NewUpstreamRejected builds an upstream rejected error with a hint
func NewUpstreamRejected(message, hint string, err error) *DomainError {
	return NewDomainError(ErrorTypeUpstreamRejected, message, err).WithHint(hint)
}

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return hasType(err, ErrorTypeUnauthorized)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

// IsUpstreamUnavailableError checks if an error reports an unreachable upstream
func IsUpstreamUnavailableError(err error) bool {
	return hasType(err, ErrorTypeUpstreamUnavailable)
}

// IsUpstreamRejectedError checks if an error reports an upstream rejection
func IsUpstreamRejectedError(err error) bool {
	return hasType(err, ErrorTypeUpstreamRejected)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetHint returns the remediation hint of a domain error, if any
func GetHint(err error) string {
	if hint, ok := GetErrorDetails(err)[DetailHint].(string); ok {
		return hint
	}
	return ""
}

// GetMessage returns the caller-facing message of a domain error
func GetMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
