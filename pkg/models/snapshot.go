package models

import (
	"strings"
	"time"
)

// StepStatus is the canonical state of a single processing step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusPaused    StepStatus = "paused"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// NormalizeStepStatus maps the free-form status strings emitted by node
// implementations onto the five canonical states.
func NormalizeStepStatus(raw string) StepStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "processing", "executing", "in_progress", "in-progress", "started", "active", "generating":
		return StepStatusRunning
	case "paused", "waiting", "suspended", "on_hold":
		return StepStatusPaused
	case "completed", "complete", "done", "success", "succeeded", "finished", "ok":
		return StepStatusCompleted
	case "failed", "failure", "error", "errored", "cancelled", "canceled", "timeout", "timed_out":
		return StepStatusFailed
	default:
		return StepStatusPending
	}
}

// NodeResult is the free-form output a node reported. Known metric fields are
// read through aliases when metrics are derived.
type NodeResult map[string]any

// ProcessingStep is the per-node progress row shown to pollers.
type ProcessingStep struct {
	NodeID         string     `json:"node_id"`
	Name           string     `json:"name"`
	Status         StepStatus `json:"status"`
	Progress       float64    `json:"progress"`
	Tokens         int64      `json:"tokens"`
	Words          int64      `json:"words"`
	Provider       string     `json:"provider,omitempty"`
	ExecutionOrder int        `json:"execution_order"`
	TotalNodes     int        `json:"total_nodes"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RegenerationAttempt tracks how many times a node was replayed.
type RegenerationAttempt struct {
	Count         int       `json:"count"`
	LastError     string    `json:"last_error,omitempty"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// Metrics are derived from NodeResults and never accumulated.
type Metrics struct {
	Tokens   int64   `json:"tokens"`
	Words    int64   `json:"words"`
	Cost     float64 `json:"cost"`
	Chapters int     `json:"chapters"`
}

// ProgressSnapshot is the durable, mergeable state of an execution stored in
// the execution_data column.
type ProgressSnapshot struct {
	Progress             float64                        `json:"progress"`
	CurrentNode          string                         `json:"current_node,omitempty"`
	ProcessingSteps      []ProcessingStep               `json:"processing_steps,omitempty"`
	NodeResults          map[string]NodeResult          `json:"node_results,omitempty"`
	AllFormats           map[string]any                 `json:"all_formats,omitempty"`
	CheckpointData       map[string]any                 `json:"checkpoint_data,omitempty"`
	RegenerationAttempts map[string]RegenerationAttempt `json:"regeneration_attempts,omitempty"`
	LastValidationError  map[string]any                 `json:"last_validation_error,omitempty"`
	StoryContext         map[string]any                 `json:"story_context,omitempty"`
	Message              string                         `json:"message,omitempty"`
	Error                string                         `json:"error,omitempty"`
	Metrics              Metrics                        `json:"metrics"`
}

// Step returns the processing step for a node, if any.
func (s ProgressSnapshot) Step(nodeID string) (ProcessingStep, bool) {
	for _, step := range s.ProcessingSteps {
		if step.NodeID == nodeID {
			return step, true
		}
	}

	return ProcessingStep{}, false
}

// SnapshotPatch is a partial snapshot. Nil scalar pointers and nil maps leave
// the previous value untouched.
type SnapshotPatch struct {
	Progress             *float64                       `json:"progress,omitempty"`
	CurrentNode          *string                        `json:"current_node,omitempty"`
	ProcessingSteps      []ProcessingStep               `json:"processing_steps,omitempty"`
	NodeResults          map[string]NodeResult          `json:"node_results,omitempty"`
	AllFormats           map[string]any                 `json:"all_formats,omitempty"`
	CheckpointData       map[string]any                 `json:"checkpoint_data,omitempty"`
	RegenerationAttempts map[string]RegenerationAttempt `json:"regeneration_attempts,omitempty"`
	LastValidationError  map[string]any                 `json:"last_validation_error,omitempty"`
	StoryContext         map[string]any                 `json:"story_context,omitempty"`
	Message              *string                        `json:"message,omitempty"`
	Error                *string                        `json:"error,omitempty"`
}
