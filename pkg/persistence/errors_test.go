package persistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionError(t *testing.T) {
	t.Parallel()

	err := NewExecutionError("GetByID", "exec-123", ErrExecutionNotFound)

	assert.Equal(t, "GetByID operation failed for execution exec-123: execution not found", err.Error())
	assert.True(t, IsExecutionNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsEngineNotFound(err))
}

func TestEngineError(t *testing.T) {
	t.Parallel()

	err := NewEngineError("Save", "engine-1", errors.New("disk full"))

	assert.Contains(t, err.Error(), "engine-1")
	assert.False(t, IsNotFound(err))
	assert.True(t, IsEngineNotFound(NewEngineError("GetByID", "engine-1", ErrEngineNotFound)))
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"execution", ErrExecutionNotFound, true},
		{"engine", ErrEngineNotFound, true},
		{"book", ErrBookNotFound, true},
		{"other", ErrInvalidAmount, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFound(tt.err))
		})
	}
}
