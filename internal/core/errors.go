package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation  ErrorCategory = "validation"  // Invalid input
	ErrCatNotFound    ErrorCategory = "not_found"   // Missing, or not visible to the caller
	ErrCatAuth        ErrorCategory = "auth"        // Authentication failure
	ErrCatConflict    ErrorCategory = "conflict"    // Concurrent modification or duplicate
	ErrCatExecution   ErrorCategory = "execution"   // Agent run failure
	ErrCatTimeout     ErrorCategory = "timeout"     // Operation timed out
	ErrCatState       ErrorCategory = "state"       // Illegal state transition
	ErrCatUnavailable ErrorCategory = "unavailable" // Database or queue backend unreachable
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrNotFound creates a not found error. The message is identical whether
// the resource does not exist or the caller may not see it.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category: ErrCatAuth,
		Code:     "AUTH_FAILED",
		Message:  message,
	}
}

// ErrConflict creates a conflict error.
func ErrConflict(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatConflict,
		Code:     code,
		Message:  message,
	}
}

// ErrExecution creates an execution error. Executions are never retried
// automatically, so these are not retryable.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatExecution,
		Code:     code,
		Message:  message,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatState,
		Code:     code,
		Message:  message,
	}
}

// ErrUnavailable creates a backend unavailability error.
func ErrUnavailable(backend string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatUnavailable,
		Code:      "BACKEND_UNAVAILABLE",
		Message:   backend + " unavailable",
		Retryable: true,
		Cause:     cause,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeEmptySessionID    = "EMPTY_SESSION_ID"
	CodeEmptyProjectID    = "EMPTY_PROJECT_ID"
	CodeInvalidStatus     = "INVALID_STATUS"
	CodeEmptyBody         = "EMPTY_BODY"
	CodeUnknownAgent      = "UNKNOWN_AGENT"
	CodeEmptyName         = "EMPTY_NAME"
	CodeDuplicateJob      = "DUPLICATE_JOB"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeAgentFailed       = "AGENT_FAILED"
	CodeJobStalled        = "JOB_STALLED"
	CodeEmptyTaskID       = "EMPTY_TASK_ID"
	CodeEmptyExecutionID  = "EMPTY_EXECUTION_ID"
	CodeCancelled         = "CANCELLED"
)
