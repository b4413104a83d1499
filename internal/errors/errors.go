package errors

import (
	"errors"
	"fmt"
)

// PipelineError is the structured error type for Trailblazer. It carries a
// stable code, a category for routing, and the underlying cause.
type PipelineError struct {
	// Code is the unique error code (e.g., "ERR_201_MISSING_INPUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (CONFIG, MISSING_INPUT, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the operation may be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works across wrapped instances.
func (e *PipelineError) Is(target error) bool {
	if t, ok := target.(*PipelineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail. Returns the error for chaining.
func (e *PipelineError) WithDetail(key, value string) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a PipelineError with the given code and message. Category,
// severity, and retryability are derived from the code.
func New(code, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a PipelineError with a formatted message.
func Newf(code string, format string, args ...any) *PipelineError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a PipelineError from an existing error. Returns nil if err is
// nil.
func Wrap(code string, err error) *PipelineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// MissingInput creates the error for an absent prior-phase artifact.
func MissingInput(path string) *PipelineError {
	return Newf(ErrCodeMissingInput, "required input artifact not found: %s", path).
		WithDetail("path", path)
}

// EmptyArtifact creates the error for a present but empty artifact.
func EmptyArtifact(path string) *PipelineError {
	return Newf(ErrCodeEmptyArtifact, "input artifact is empty: %s", path).
		WithDetail("path", path)
}

// DimensionMismatch creates the error for conflicting embedding dimensions.
func DimensionMismatch(existing, requested int) *PipelineError {
	return Newf(ErrCodeDimensionMismatch,
		"existing embeddings have dim %d, requested %d (use reembed-all to override)",
		existing, requested)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *PipelineError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// DatabaseError wraps a relational store failure.
func DatabaseError(message string, cause error) *PipelineError {
	return New(ErrCodeDatabase, message, cause)
}

// IsRetryable reports whether err is a retryable PipelineError.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity.
func IsFatal(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Severity == SeverityFatal
	}
	return false
}

// CodeOf extracts the error code, or "" if err is not a PipelineError.
func CodeOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// CategoryOf extracts the category, or "" if err is not a PipelineError.
func CategoryOf(err error) Category {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}
