package utils

import (
	"errors"
	"fmt"
)

// ValidationError represents an error occurring during data validation.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets validation failures match ErrMalformedInput.
func (e *ValidationError) Unwrap() error {
	return ErrMalformedInput
}

// NewValidationError creates a new ValidationError with a specific message.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
//
// Parameters:
//   - format: The format string.
//   - args: Arguments for the format string.
//
// Returns:
//   - An error interface wrapping the ValidationError.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// Sentinel errors of the pipeline. Wrap them with fmt.Errorf("...: %w", err).
var (
	ErrMalformedInput   = errors.New("malformed input")
	ErrInsufficientData = errors.New("insufficient data")
	ErrTransient        = errors.New("transient failure")
	ErrPersistence      = errors.New("persistence failure")
	ErrFatal            = errors.New("fatal failure")
	ErrNotFound         = errors.New("not found")
)

// ErrorClass tells a loop what to do with an error.
type ErrorClass int

const (
	// ClassNone means no error.
	ClassNone ErrorClass = iota
	// ClassSkip drops the offending item and continues.
	ClassSkip
	// ClassFailed logs and counts the failure; the next cycle retries.
	ClassFailed
	// ClassFatal stops the subsystem.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassSkip:
		return "skip"
	case ClassFailed:
		return "failed"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an error to its class. Unknown errors are treated as failures.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrFatal):
		return ClassFatal
	case errors.Is(err, ErrMalformedInput), errors.Is(err, ErrInsufficientData):
		return ClassSkip
	default:
		return ClassFailed
	}
}

// IsSkip reports whether err is an expected filtering outcome.
func IsSkip(err error) bool {
	return Classify(err) == ClassSkip
}
