// Package errors provides typed errors for pgadvisor operations.
//
// This package defines sentinel errors and error types that allow callers
// to handle specific error conditions programmatically using errors.Is()
// and errors.As().
//
// Sentinel Errors:
//   - ErrTimeout: operation timed out
//   - ErrConnectionFailed: database connection failed
//   - ErrInvalidInput: caller input or configuration failed validation
//   - ErrExtensionMissing: required PostgreSQL extension not installed
//   - ErrVersionUnsupported: server version lacks a required feature
//   - ErrCleanupFailed: hypothetical index teardown failed
//
// Typed Errors:
//   - ValidationError: wraps caller input validation errors
//   - CapabilityError: missing extension or server feature, with guidance
//   - QueryError: wraps database query errors
//   - ResourceCleanupError: failed drop of a hypothetical index
//   - MultiError: aggregates multiple errors
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrTimeout indicates an operation exceeded its time limit.
	ErrTimeout = errors.New("operation timed out")

	// ErrConnectionFailed indicates the database connection could not be established.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrInvalidInput indicates caller input or configuration failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrExtensionMissing indicates a required PostgreSQL extension is not installed.
	ErrExtensionMissing = errors.New("required extension missing")

	// ErrVersionUnsupported indicates the server is too old for a required feature.
	ErrVersionUnsupported = errors.New("unsupported server version")

	// ErrCleanupFailed indicates hypothetical index state could not be torn down.
	ErrCleanupFailed = errors.New("hypothetical index cleanup failed")
)

// ValidationError represents a caller input or configuration validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was invalid (may be redacted for sensitive fields)
	Message string // Human-readable validation message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// Unwrap returns ErrInvalidInput for errors.Is support.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Is reports whether target matches this error type.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// CapabilityError reports a missing extension or server feature.
// Guidance carries the actionable instructions shown to the operator.
type CapabilityError struct {
	Feature  string // Extension or feature name (e.g., "hypopg")
	Guidance string // How to make the feature available
	Err      error  // ErrExtensionMissing or ErrVersionUnsupported
}

// NewCapabilityError creates a new CapabilityError.
func NewCapabilityError(feature, guidance string, err error) *CapabilityError {
	if err == nil {
		err = ErrExtensionMissing
	}
	return &CapabilityError{Feature: feature, Guidance: guidance, Err: err}
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	if e.Guidance == "" {
		return fmt.Sprintf("%s: %v", e.Feature, e.Err)
	}
	return fmt.Sprintf("%s: %v. %s", e.Feature, e.Err, e.Guidance)
}

// Unwrap returns the underlying sentinel for errors.Is support.
func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error type.
func (e *CapabilityError) Is(target error) bool {
	_, ok := target.(*CapabilityError)
	return ok
}

// QueryError represents a database query error.
type QueryError struct {
	Query string // SQL query (may be truncated for long queries)
	Err   error  // Underlying database error
}

// queryMaxLen is the maximum length of a query string in error messages.
const queryMaxLen = 100

// NewQueryError creates a new QueryError.
// Long queries are automatically truncated.
func NewQueryError(query string, err error) *QueryError {
	if len(query) > queryMaxLen {
		query = query[:queryMaxLen] + "..."
	}
	return &QueryError{Query: query, Err: err}
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed [%s]: %v", e.Query, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error type.
func (e *QueryError) Is(target error) bool {
	_, ok := target.(*QueryError)
	return ok
}

// ResourceCleanupError reports a hypothetical index that could not be dropped.
// It is surfaced as a warning; the analysis result stays valid.
type ResourceCleanupError struct {
	SessionID  string // Session that owned the index
	Definition string // Index definition (or "hypopg_reset" for a backend reset)
	Err        error  // Underlying error
}

// NewResourceCleanupError creates a new ResourceCleanupError.
func NewResourceCleanupError(sessionID, definition string, err error) *ResourceCleanupError {
	return &ResourceCleanupError{SessionID: sessionID, Definition: definition, Err: err}
}

// Error implements the error interface.
func (e *ResourceCleanupError) Error() string {
	return fmt.Sprintf("session %s: drop hypothetical index %s: %v", e.SessionID, e.Definition, e.Err)
}

// Unwrap returns ErrCleanupFailed so callers can detect orphaned what-if state.
func (e *ResourceCleanupError) Unwrap() []error {
	return []error{ErrCleanupFailed, e.Err}
}

// Is reports whether target matches this error type.
func (e *ResourceCleanupError) Is(target error) bool {
	_, ok := target.(*ResourceCleanupError)
	return ok
}

// MultiError aggregates errors that occur independently, such as the
// cleanup failures of one session.
type MultiError struct {
	Errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (me *MultiError) Add(err error) {
	if err != nil {
		me.Errors = append(me.Errors, err)
	}
}

// Error implements the error interface.
func (me *MultiError) Error() string {
	switch len(me.Errors) {
	case 0:
		return "no errors"
	case 1:
		return me.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors occurred; first: %v", len(me.Errors), me.Errors[0])
	}
}

// Unwrap returns every collected error for errors.Is/As support.
func (me *MultiError) Unwrap() []error {
	return me.Errors
}

// ErrorOrNil returns nil if no errors were added, otherwise returns the MultiError.
func (me *MultiError) ErrorOrNil() error {
	if len(me.Errors) == 0 {
		return nil
	}
	return me
}
