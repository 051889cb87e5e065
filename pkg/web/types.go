package web

import (
	"time"

	"github.com/dukex/inkwell/pkg/models"
)

// SubmitExecutionRequest starts an engine run. The engine key travels in the
// Authorization header.
type SubmitExecutionRequest struct {
	EngineID         string         `json:"engine_id"         validate:"required"`
	UserID           string         `json:"user_id"           validate:"required"`
	Inputs           map[string]any `json:"inputs"`
	ExecutionContext map[string]any `json:"execution_context"`
}

type SubmitExecutionResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
}

type RegenerateRequest struct {
	NodeID          string `json:"node_id"          validate:"required"`
	UserID          string `json:"user_id"          validate:"required"`
	ValidationError string `json:"validation_error"`
}

type ExecutionResponse struct {
	ID              string                  `json:"id"`
	UserID          string                  `json:"user_id"`
	EngineID        string                  `json:"engine_id"`
	Status          models.ExecutionStatus  `json:"status"`
	ErrorMessage    string                  `json:"error_message,omitempty"`
	TokensUsed      int64                   `json:"tokens_used"`
	CostEstimate    float64                 `json:"cost_estimate"`
	ExecutionTimeMs int64                   `json:"execution_time_ms"`
	Progress        models.ProgressSnapshot `json:"progress"`
	CreatedAt       time.Time               `json:"created_at"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
}

func newExecutionResponse(record *models.ExecutionRecord) ExecutionResponse {
	return ExecutionResponse{
		ID:              record.ID,
		UserID:          record.UserID,
		EngineID:        record.EngineID,
		Status:          record.Status,
		ErrorMessage:    record.ErrorMessage,
		TokensUsed:      record.TokensUsed,
		CostEstimate:    record.CostEstimate,
		ExecutionTimeMs: record.ExecutionTimeMs,
		Progress:        record.ExecutionData,
		CreatedAt:       record.CreatedAt,
		CompletedAt:     record.CompletedAt,
	}
}
