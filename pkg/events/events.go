// Package events defines execution lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const Topic = "inkwell.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionTimedOutEvent  EventType = "execution.timed_out"

	NodeRegeneratedEvent EventType = "node.regenerated"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id"`
	UserID      string         `json:"user_id,omitempty"`
	EngineID    string         `json:"engine_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
	}
}

type ExecutionStarted struct {
	BaseEvent

	TotalNodes int `json:"total_nodes"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	TokensUsed   int64             `json:"tokens_used"`
	CostEstimate float64           `json:"cost_estimate"`
	Duration     time.Duration     `json:"duration"`
	FormatURLs   map[string]string `json:"format_urls,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	Error        string        `json:"error"`
	TokensUsed   int64         `json:"tokens_used"`
	CostEstimate float64       `json:"cost_estimate"`
	Duration     time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

// ExecutionCancelled is published when a caller stops an execution.
type ExecutionCancelled struct {
	BaseEvent

	Reason string `json:"reason"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// ExecutionTimedOut is published by the stale sweep. Orphan marks rows no
// coordinator instance owned.
type ExecutionTimedOut struct {
	BaseEvent

	StaleFor time.Duration `json:"stale_for"`
	Orphan   bool          `json:"orphan"`
}

func (e ExecutionTimedOut) GetType() EventType {
	return ExecutionTimedOutEvent
}

type NodeRegenerated struct {
	BaseEvent

	NodeID     string `json:"node_id"`
	Attempt    int    `json:"attempt"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	TokensUsed int64  `json:"tokens_used"`
}

func (e NodeRegenerated) GetType() EventType {
	return NodeRegeneratedEvent
}
