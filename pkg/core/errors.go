package core

import (
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, target_not_resolved, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches another ExecutionError by code, so copies made with WithCause
// or WithDetails still satisfy errors.Is against the predefined values.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Resolution errors
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryResolution,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrTargetNotResolved = &ExecutionError{
		Category: ErrCategoryResolution,
		Code:     "target_not_resolved",
		Message:  "no strategy resolved the target",
	}
	ErrActionFailed = &ExecutionError{
		Category: ErrCategoryResolution,
		Code:     "action_failed",
		Message:  "action on resolved target failed",
	}

	// Transport errors
	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategoryTransport,
		Code:     "server_unreachable",
		Message:  "could not reach vision service",
	}
	ErrMalformedResponse = &ExecutionError{
		Category: ErrCategoryTransport,
		Code:     "malformed_response",
		Message:  "vision service returned an unparseable response",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrInvalidTarget = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_target",
		Message:  "target name is required",
	}
	ErrInvalidRecipe = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_recipe",
		Message:  "recipe must set at least one of testId, role, text, semanticsLabel",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}
