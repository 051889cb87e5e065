package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewBaseEvent(t *testing.T) {
	before := time.Now().UTC()
	event := NewBaseEvent(ExecutionStartedEvent, "exec-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ExecutionStartedEvent, event.Type)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.False(t, event.Timestamp.Before(before))
	assert.NotEqual(t, event.ID, NewBaseEvent(ExecutionStartedEvent, "exec-1").ID)
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		event interface{ GetType() EventType }
		want  EventType
	}{
		{ExecutionStarted{}, ExecutionStartedEvent},
		{ExecutionCompleted{}, ExecutionCompletedEvent},
		{ExecutionFailed{}, ExecutionFailedEvent},
		{ExecutionCancelled{}, ExecutionCancelledEvent},
		{ExecutionTimedOut{}, ExecutionTimedOutEvent},
		{NodeRegenerated{}, NodeRegeneratedEvent},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.GetType())
	}
}
