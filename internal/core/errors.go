package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatConfig     ErrorCategory = "config"     // Invalid configuration; fatal at startup
	ErrCatMetrics    ErrorCategory = "metrics"    // A sampling attempt failed; recovered locally
	ErrCatCollection ErrorCategory = "collection" // Collection backend failure; run degrades
	ErrCatAnalysis   ErrorCategory = "analysis"   // A diagnostic phase failed; run continues
	ErrCatState      ErrorCategory = "state"      // Registry/state corruption or conflict
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
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

// ErrConfig creates a configuration error. Configuration errors are the only
// terminal kind: they surface before any monitoring starts.
func ErrConfig(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatConfig,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrMetricsUnavailable creates a metrics sampling error. The sampling loop
// recovers locally: the sample is skipped and the loop continues.
func ErrMetricsUnavailable(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatMetrics,
		Code:      CodeMetricsUnavailable,
		Message:   message,
		Retryable: true,
	}
}

// ErrCollectionBackend creates a collection backend error. The controller
// recovers by degrading: the run proceeds without collection-derived data.
func ErrCollectionBackend(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatCollection,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrCollectionNotFound marks a collection that disappeared underneath us,
// usually removed by another process. Cleanup treats it as already clean.
func ErrCollectionNotFound(name string) *DomainError {
	return &DomainError{
		Category:  ErrCatCollection,
		Code:      CodeCollectionNotFound,
		Message:   fmt.Sprintf("collection not found: %s", name),
		Retryable: false,
	}
}

// ErrAnalysis creates a phase-level analysis error. The runner degrades the
// phase and continues with the next one.
func ErrAnalysis(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAnalysis,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
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

// IsCollectionNotFound reports whether err is the not-found kind, regardless
// of wrapping.
func IsCollectionNotFound(err error) bool {
	return errors.Is(err, &DomainError{Category: ErrCatCollection, Code: CodeCollectionNotFound})
}

// Predefined error codes
const (
	CodeInvalidThresholds = "INVALID_THRESHOLDS"
	CodeInvalidPolicy     = "INVALID_POLICY"
	CodeInvalidConfig     = "INVALID_CONFIG"

	CodeMetricsUnavailable = "METRICS_UNAVAILABLE"
	CodeMetricsTimeout     = "METRICS_TIMEOUT"

	CodeCollectionList     = "COLLECTION_LIST_FAILED"
	CodeCollectionCreate   = "COLLECTION_CREATE_FAILED"
	CodeCollectionStart    = "COLLECTION_START_FAILED"
	CodeCollectionStop     = "COLLECTION_STOP_FAILED"
	CodeCollectionDelete   = "COLLECTION_DELETE_FAILED"
	CodeCollectionNotFound = "COLLECTION_NOT_FOUND"

	CodePhaseFailed  = "PHASE_FAILED"
	CodeInvalidState = "INVALID_STATE"
	CodeRegistry     = "REGISTRY_FAILURE"
)
