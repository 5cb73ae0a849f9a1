package errors

import (
	"errors"
	"fmt"
)

// Standard error codes
const (
	CodeValidationError       = "VALIDATION_ERROR"
	CodeOrderNotFound         = "ORDER_NOT_FOUND"
	CodeMalformedQueuePayload = "MALFORMED_QUEUE_PAYLOAD"
	CodePlatformRequestFailed = "PLATFORM_REQUEST_FAILED"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	CodeInternalError         = "INTERNAL_ERROR"
)

// AppError represents an application error with a stable error code
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by code so sentinel-style checks work with errors.Is
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// WithDetail adds a single detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap wraps an existing error
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// NewAppError creates a new AppError
func NewAppError(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Kind returns a code-only AppError usable as an errors.Is target
func Kind(code string) *AppError {
	return &AppError{Code: code}
}

// ErrValidation creates a validation error
func ErrValidation(message string) *AppError {
	return NewAppError(CodeValidationError, message)
}

// ErrOrderNotFound is raised when a sales order number has no platform order
func ErrOrderNotFound(salesOrderNumber string) *AppError {
	return NewAppError(CodeOrderNotFound, fmt.Sprintf("Order not found: %s", salesOrderNumber)).
		WithDetail("salesOrderNumber", salesOrderNumber)
}

// ErrMalformedPayload is raised when a queue entry payload cannot be merged
func ErrMalformedPayload(queueID, reason string) *AppError {
	return NewAppError(CodeMalformedQueuePayload, fmt.Sprintf("malformed queue payload %s: %s", queueID, reason)).
		WithDetail("queueId", queueID)
}

// ErrPlatformRequest wraps a failed call to the order-management platform
func ErrPlatformRequest(operation string, err error) *AppError {
	return NewAppError(CodePlatformRequestFailed, fmt.Sprintf("%s failed", operation)).
		WithDetail("operation", operation).
		Wrap(err)
}

// ErrServiceUnavailable creates a service unavailable error
func ErrServiceUnavailable(service string) *AppError {
	return NewAppError(CodeServiceUnavailable, fmt.Sprintf("%s is temporarily unavailable", service))
}

// ErrInternal creates an internal error
func ErrInternal(message string) *AppError {
	if message == "" {
		message = "an internal error occurred"
	}
	return NewAppError(CodeInternalError, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the AppError code of err, or CodeInternalError for foreign errors
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternalError
}

// FromError converts a standard error to an AppError
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return ErrInternal("").Wrap(err)
}
