package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeOutOfRange = "OUT_OF_RANGE"
	ErrCodeResource   = "RESOURCE_ERROR"
	ErrCodeStepFailed = "STEP_FAILED"
	ErrCodeStepPanic  = "STEP_PANIC"
	ErrCodeFramework  = "FRAMEWORK_ERROR"
	ErrCodeCanceled   = "CANCELED"
	ErrCodeStore      = "STORE_ERROR"
	ErrCodeInstrument = "INSTRUMENT_ERROR"
	ErrCodeExpression = "EXPRESSION_ERROR"
)

// FabrialError is the structured error type used across the engine.
type FabrialError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FabrialError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %q: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FabrialError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FabrialError.
func NewError(code, message string) *FabrialError {
	return &FabrialError{Code: code, Message: message}
}

// NewErrorf creates a new FabrialError with a formatted message.
func NewErrorf(code, format string, args ...any) *FabrialError {
	return &FabrialError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches the display name of the step that failed.
func (e *FabrialError) WithStep(name string) *FabrialError {
	e.Step = name
	return e
}

// WithCause attaches an underlying cause.
func (e *FabrialError) WithCause(err error) *FabrialError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FabrialError) WithDetails(details map[string]any) *FabrialError {
	e.Details = details
	return e
}

// HasCode reports whether err wraps a FabrialError carrying the given code.
func HasCode(err error, code string) bool {
	var fe *FabrialError
	return errors.As(err, &fe) && fe.Code == code
}
