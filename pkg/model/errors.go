package model

import "fmt"

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the shipyard API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewConflictError creates a CONFLICT APIError.
func NewConflictError(msg string) *APIError {
	return &APIError{Code: ErrConflict, Message: msg}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// BuildError reports a failed artifact build for one target.
type BuildError struct {
	TargetID string
	Output   string
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build target %s: %v", e.TargetID, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// ProcessError reports an external process that exited with a failing code.
type ProcessError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s: exit code %d", e.Command, e.ExitCode)
}
