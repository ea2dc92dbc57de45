package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies the failures the risk engine can report
type ErrorCategory string

const (
	// Rejected at the boundary, never retried
	ErrorCategoryValidation ErrorCategory = "VALIDATION"

	// Training/validation operations invoked below their minimum corpus size
	ErrorCategoryInsufficientData ErrorCategory = "INSUFFICIENT_DATA"

	// Malformed corpus files, unreadable snapshots
	ErrorCategoryData ErrorCategory = "DATA"

	// Invalid configuration detected at load time
	ErrorCategoryConfig ErrorCategory = "CONFIG"

	// Internal invariant broken; should stop the process
	ErrorCategoryInternal ErrorCategory = "INTERNAL"
)

// EngineError is a categorized error with component and operation context.
// Blocking risk conditions (breached loss caps, critical drawdown) are NOT
// errors: they are returned as decision values so callers always receive a
// safe no-op outcome.
type EngineError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// New creates a categorized engine error
func New(category ErrorCategory, component, operation, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
	}
}

// Wrap wraps an existing error with engine error context
func Wrap(err error, category ErrorCategory, component, operation string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
	}
}

// NewValidationError reports an out-of-range or non-finite input
func NewValidationError(component, operation, message string) *EngineError {
	return New(ErrorCategoryValidation, component, operation, message)
}

// NewInsufficientDataError reports a batch operation invoked below its minimum
// corpus size, with the observed and required counts
func NewInsufficientDataError(component, operation string, got, need int) *EngineError {
	return New(ErrorCategoryInsufficientData, component, operation,
		fmt.Sprintf("insufficient data: have %d trades, need at least %d", got, need))
}

// NewConfigError reports invalid configuration
func NewConfigError(component, operation, message string) *EngineError {
	return New(ErrorCategoryConfig, component, operation, message)
}

// CategoryOf returns the category of an error, or "" if it is not an EngineError
func CategoryOf(err error) ErrorCategory {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// IsValidation reports whether the error is a boundary validation failure
func IsValidation(err error) bool {
	return CategoryOf(err) == ErrorCategoryValidation
}

// IsInsufficientData reports whether the error is a minimum-corpus failure
func IsInsufficientData(err error) bool {
	return CategoryOf(err) == ErrorCategoryInsufficientData
}

// IsData reports whether the error is a corpus or data-source failure
func IsData(err error) bool {
	return CategoryOf(err) == ErrorCategoryData
}
