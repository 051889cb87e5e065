package file

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
)

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	store *store
}

// Create writes a new execution row.
func (er *ExecutionRepository) Create(_ context.Context, record *models.ExecutionRecord) error {
	if !record.Status.Valid() {
		return persistence.NewExecutionError("Create", record.ID, persistence.ErrInvalidExecutionStatus)
	}

	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	var existing models.ExecutionRecord

	err := er.store.read(record.ID, &existing)
	if err == nil {
		return persistence.NewExecutionError("Create", record.ID, persistence.ErrExecutionAlreadyExists)
	}

	if !errors.Is(err, errDocumentNotFound) {
		return persistence.NewExecutionError("Create", record.ID, err)
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	if err := er.store.write(record.ID, record); err != nil {
		return persistence.NewExecutionError("Create", record.ID, err)
	}

	return nil
}

// GetByID retrieves an execution by its ID from the file system.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.ExecutionRecord, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return er.get("GetByID", id)
}

func (er *ExecutionRepository) get(op, id string) (*models.ExecutionRecord, error) {
	var record models.ExecutionRecord

	if err := er.store.read(id, &record); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return nil, persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError(op, id, err)
	}

	return &record, nil
}

// SaveSnapshot replaces the execution data of a row.
func (er *ExecutionRepository) SaveSnapshot(_ context.Context, id string, snapshot models.ProgressSnapshot) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	record, err := er.get("SaveSnapshot", id)
	if err != nil {
		return err
	}

	record.ExecutionData = snapshot
	record.UpdatedAt = time.Now().UTC()

	if err := er.store.write(id, record); err != nil {
		return persistence.NewExecutionError("SaveSnapshot", id, err)
	}

	return nil
}

// Finish applies a terminal outcome only while the row is still running.
func (er *ExecutionRepository) Finish(_ context.Context, id string, outcome models.ExecutionOutcome) (bool, error) {
	if !outcome.Status.IsTerminal() {
		return false, persistence.NewExecutionError("Finish", id, persistence.ErrInvalidExecutionStatus)
	}

	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	record, err := er.get("Finish", id)
	if err != nil {
		return false, err
	}

	if !record.Status.CanTransitionTo(outcome.Status) {
		return false, nil
	}

	completedAt := outcome.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	record.Status = outcome.Status
	record.ErrorMessage = outcome.Message
	record.TokensUsed = outcome.TokensUsed
	record.CostEstimate = outcome.CostEstimate
	record.ExecutionTimeMs = outcome.ExecutionTimeMs
	record.CompletedAt = &completedAt
	record.UpdatedAt = completedAt

	if err := er.store.write(id, record); err != nil {
		return false, persistence.NewExecutionError("Finish", id, err)
	}

	return true, nil
}

// AddUsage increments the usage columns.
func (er *ExecutionRepository) AddUsage(_ context.Context, id string, tokens int64, cost float64) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	record, err := er.get("AddUsage", id)
	if err != nil {
		return err
	}

	record.TokensUsed += tokens
	record.CostEstimate += cost
	record.UpdatedAt = time.Now().UTC()

	if err := er.store.write(id, record); err != nil {
		return persistence.NewExecutionError("AddUsage", id, err)
	}

	return nil
}

// ListByStatus returns executions in the given status, oldest first.
func (er *ExecutionRepository) ListByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error) {
	return er.list(func(r *models.ExecutionRecord) bool { return r.Status == status })
}

// ListStale returns running executions not updated since before.
func (er *ExecutionRepository) ListStale(_ context.Context, before time.Time) ([]*models.ExecutionRecord, error) {
	return er.list(func(r *models.ExecutionRecord) bool {
		return r.Status == models.ExecutionStatusRunning && r.UpdatedAt.Before(before)
	})
}

func (er *ExecutionRepository) list(keep func(*models.ExecutionRecord) bool) ([]*models.ExecutionRecord, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	ids, err := er.store.ids()
	if err != nil {
		return nil, err
	}

	records := make([]*models.ExecutionRecord, 0, len(ids))

	for _, id := range ids {
		record, err := er.get("List", id)
		if err != nil {
			return nil, err
		}

		if keep(record) {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}
