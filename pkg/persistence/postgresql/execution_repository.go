package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/lib/pq"
)

const executionColumns = `id, user_id, engine_id, status, execution_data, tokens_used, cost_estimate,
	execution_time_ms, error_message, created_at, updated_at, completed_at`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create inserts a new execution row.
func (er *ExecutionRepository) Create(ctx context.Context, record *models.ExecutionRecord) error {
	if !record.Status.Valid() {
		return persistence.NewExecutionError("Create", record.ID, persistence.ErrInvalidExecutionStatus)
	}

	dataJSON, err := json.Marshal(record.ExecutionData)
	if err != nil {
		return fmt.Errorf("failed to marshal execution data: %w", err)
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	query := `
		INSERT INTO executions (
			id, user_id, engine_id, status, execution_data, tokens_used, cost_estimate,
			execution_time_ms, error_message, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = er.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.EngineID,
		record.Status,
		dataJSON,
		record.TokensUsed,
		record.CostEstimate,
		record.ExecutionTimeMs,
		record.ErrorMessage,
		record.CreatedAt,
		record.UpdatedAt,
		record.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewExecutionError("Create", record.ID, persistence.ErrExecutionAlreadyExists)
		}

		return persistence.NewExecutionError("Create", record.ID, err)
	}

	return nil
}

// GetByID retrieves an execution by its ID.
func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	row := er.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE id = $1", id)

	record, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return record, nil
}

// SaveSnapshot replaces the execution data of a row.
func (er *ExecutionRepository) SaveSnapshot(ctx context.Context, id string, snapshot models.ProgressSnapshot) error {
	dataJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal execution data: %w", err)
	}

	result, err := er.db.ExecContext(ctx,
		"UPDATE executions SET execution_data = $2, updated_at = $3 WHERE id = $1",
		id, dataJSON, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewExecutionError("SaveSnapshot", id, err)
	}

	return er.requireRow(result, "SaveSnapshot", id)
}

// Finish applies a terminal outcome only while the row is still running.
func (er *ExecutionRepository) Finish(ctx context.Context, id string, outcome models.ExecutionOutcome) (bool, error) {
	if !outcome.Status.IsTerminal() {
		return false, persistence.NewExecutionError("Finish", id, persistence.ErrInvalidExecutionStatus)
	}

	completedAt := outcome.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	query := `
		UPDATE executions SET
			status = $2,
			error_message = $3,
			tokens_used = $4,
			cost_estimate = $5,
			execution_time_ms = $6,
			completed_at = $7,
			updated_at = $7
		WHERE id = $1 AND status = 'running'
	`

	result, err := er.db.ExecContext(ctx, query,
		id,
		outcome.Status,
		outcome.Message,
		outcome.TokensUsed,
		outcome.CostEstimate,
		outcome.ExecutionTimeMs,
		completedAt,
	)
	if err != nil {
		return false, persistence.NewExecutionError("Finish", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewExecutionError("Finish", id, err)
	}

	if affected == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing row.
	if _, err := er.GetByID(ctx, id); err != nil {
		return false, err
	}

	return false, nil
}

// AddUsage increments the usage columns.
func (er *ExecutionRepository) AddUsage(ctx context.Context, id string, tokens int64, cost float64) error {
	result, err := er.db.ExecContext(ctx, `
		UPDATE executions
		SET tokens_used = tokens_used + $2, cost_estimate = cost_estimate + $3, updated_at = $4
		WHERE id = $1
	`, id, tokens, cost, time.Now().UTC())
	if err != nil {
		return persistence.NewExecutionError("AddUsage", id, err)
	}

	return er.requireRow(result, "AddUsage", id)
}

// ListByStatus returns executions in the given status, oldest first.
func (er *ExecutionRepository) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error) {
	return er.query(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE status = $1 ORDER BY created_at ASC",
		status,
	)
}

// ListStale returns running executions not updated since before.
func (er *ExecutionRepository) ListStale(ctx context.Context, before time.Time) ([]*models.ExecutionRecord, error) {
	return er.query(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE status = 'running' AND updated_at < $1 ORDER BY created_at ASC",
		before,
	)
}

func (er *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.ExecutionRecord, error) {
	rows, err := er.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	records := make([]*models.ExecutionRecord, 0)

	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return records, nil
}

func (er *ExecutionRepository) requireRow(result sql.Result, op, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError(op, id, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*models.ExecutionRecord, error) {
	var (
		record      models.ExecutionRecord
		dataJSON    []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.EngineID,
		&record.Status,
		&dataJSON,
		&record.TokensUsed,
		&record.CostEstimate,
		&record.ExecutionTimeMs,
		&record.ErrorMessage,
		&record.CreatedAt,
		&record.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &record.ExecutionData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution data: %w", err)
		}
	}

	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}

	return &record, nil
}
