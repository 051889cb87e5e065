// Package models defines the core domain models for book generation executions.
package models

import "time"

// ExecutionStatus represents the persisted lifecycle state of an execution.
// The store knows only three states; cancellation and timeouts are recorded
// as failed with a descriptive message.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Valid reports whether the status is one the store accepts.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusRunning, ExecutionStatusCompleted, ExecutionStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// CanTransitionTo enforces running → completed|failed, never reversed.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	return s == ExecutionStatusRunning && next.IsTerminal()
}

// ExecutionRecord is one run of an engine for a single request. The
// persisted row is the source of truth; in-memory copies are caches.
type ExecutionRecord struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	EngineID        string           `json:"engine_id"`
	Status          ExecutionStatus  `json:"status"`
	ExecutionData   ProgressSnapshot `json:"execution_data"`
	TokensUsed      int64            `json:"tokens_used"`
	CostEstimate    float64          `json:"cost_estimate"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// ExecutionOutcome is the terminal result handed to Finish and the ledger.
type ExecutionOutcome struct {
	Status          ExecutionStatus
	Message         string
	TokensUsed      int64
	CostEstimate    float64
	ExecutionTimeMs int64
	CompletedAt     time.Time
}
