// Package orchestration provides the error taxonomy shared by the execution
// orchestration components.
package orchestration

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded indicates admission was refused because the
	// coordinator already runs its maximum number of executions.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrAuthorizationFailure indicates the capability key did not resolve to
	// an engine owned by the caller.
	ErrAuthorizationFailure = errors.New("authorization failure")

	// ErrProviderError indicates an upstream AI call failed.
	ErrProviderError = errors.New("provider error")

	// ErrQualityGateFailure indicates content never reached an acceptable
	// score. It is never papered over with templated content.
	ErrQualityGateFailure = errors.New("quality gate failure")

	// ErrPersistenceFailure indicates a store or object storage write failed.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrStaleExecution indicates the sweep force-failed an execution.
	ErrStaleExecution = errors.New("stale execution")

	// ErrRegenerationLimitExceeded indicates a node was retried beyond its cap.
	ErrRegenerationLimitExceeded = errors.New("regeneration limit reached, manual intervention required")

	// ErrExecutionNotActive indicates the execution is not registered with
	// this coordinator.
	ErrExecutionNotActive = errors.New("execution not active")

	// ErrInvalidRequest indicates a malformed submission.
	ErrInvalidRequest = errors.New("invalid request")
)

// ExecutionError wraps an orchestration error with its execution context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g. "Submit", "Regenerate")
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *ExecutionError) Error() string {
	target := e.ExecutionID
	if e.NodeID != "" {
		target = fmt.Sprintf("%s node %s", e.ExecutionID, e.NodeID)
	}

	if target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s failed for execution %s: %v", e.Op, target, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates an execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// NewNodeError creates an execution error scoped to a node.
func NewNodeError(op, executionID, nodeID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, NodeID: nodeID, Err: err}
}

// IsCapacityExceeded checks if an error is an admission refusal.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

// IsAuthorizationFailure checks if an error is a capability key failure.
func IsAuthorizationFailure(err error) bool {
	return errors.Is(err, ErrAuthorizationFailure)
}

// IsProviderError checks if an error came from an upstream AI call.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderError)
}

// IsQualityGateFailure checks if content was rejected by quality gates.
func IsQualityGateFailure(err error) bool {
	return errors.Is(err, ErrQualityGateFailure)
}

// IsPersistenceFailure checks if a store or storage write failed.
func IsPersistenceFailure(err error) bool {
	return errors.Is(err, ErrPersistenceFailure)
}

// IsRegenerationLimitExceeded checks if a node exhausted its attempts.
func IsRegenerationLimitExceeded(err error) bool {
	return errors.Is(err, ErrRegenerationLimitExceeded)
}
