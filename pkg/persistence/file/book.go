package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/google/uuid"
)

// BookRepository stores one document per execution id, so an upsert can
// never produce a second book for the same execution.
type BookRepository struct {
	store *store
}

func (br *BookRepository) UpsertByExecution(_ context.Context, book *models.BookArtifact) (*models.BookArtifact, error) {
	executionID := book.ExecutionID()
	if executionID == "" {
		return nil, errors.New("book metadata must carry execution_id")
	}

	br.store.mu.Lock()
	defer br.store.mu.Unlock()

	now := time.Now().UTC()
	stored := *book

	var existing models.BookArtifact

	err := br.store.read(executionID, &existing)

	switch {
	case err == nil:
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	case errors.Is(err, errDocumentNotFound):
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}

		stored.CreatedAt = now
	default:
		return nil, fmt.Errorf("failed to load book for execution %s: %w", executionID, err)
	}

	stored.UpdatedAt = now

	if err := br.store.write(executionID, &stored); err != nil {
		return nil, fmt.Errorf("failed to upsert book for execution %s: %w", executionID, err)
	}

	return &stored, nil
}

func (br *BookRepository) GetByExecution(_ context.Context, executionID string) (*models.BookArtifact, error) {
	br.store.mu.Lock()
	defer br.store.mu.Unlock()

	var book models.BookArtifact

	if err := br.store.read(executionID, &book); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return nil, persistence.NewExecutionError("GetBook", executionID, persistence.ErrBookNotFound)
		}

		return nil, err
	}

	return &book, nil
}
