// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same identifier already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrInvalidExecutionStatus indicates a status the store does not accept.
	ErrInvalidExecutionStatus = errors.New("invalid execution status")

	// ErrEngineNotFound indicates an engine definition was not found.
	ErrEngineNotFound = errors.New("engine not found")

	// ErrBookNotFound indicates no book artifact exists for the execution.
	ErrBookNotFound = errors.New("book not found")

	// ErrInvalidAmount indicates a non-positive debit or credit.
	ErrInvalidAmount = errors.New("invalid ledger amount")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "GetByID", "Finish")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// EngineError wraps engine-related errors with additional context.
type EngineError struct {
	Op       string
	EngineID string
	Err      error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s operation failed for engine %s: %v", e.Op, e.EngineID, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEngineError creates a new engine error with context.
func NewEngineError(op, engineID string, err error) *EngineError {
	return &EngineError{Op: op, EngineID: engineID, Err: err}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsEngineNotFound checks if an error indicates an engine was not found.
func IsEngineNotFound(err error) bool {
	return errors.Is(err, ErrEngineNotFound)
}

// IsBookNotFound checks if an error indicates a book was not found.
func IsBookNotFound(err error) bool {
	return errors.Is(err, ErrBookNotFound)
}

// IsNotFound checks if an error is any kind of not-found error.
func IsNotFound(err error) bool {
	return IsExecutionNotFound(err) || IsEngineNotFound(err) || IsBookNotFound(err)
}
