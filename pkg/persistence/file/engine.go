package file

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
)

// EngineRepository handles engine definition file operations.
type EngineRepository struct {
	store *store
}

// Save creates or replaces an engine definition.
func (er *EngineRepository) Save(_ context.Context, engine *models.EngineDefinition) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	now := time.Now().UTC()
	if engine.CreatedAt.IsZero() {
		engine.CreatedAt = now
	}

	engine.UpdatedAt = now

	if err := er.store.write(engine.ID, engine); err != nil {
		return persistence.NewEngineError("Save", engine.ID, err)
	}

	return nil
}

func (er *EngineRepository) GetByID(_ context.Context, id string) (*models.EngineDefinition, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	return er.get(id)
}

func (er *EngineRepository) get(id string) (*models.EngineDefinition, error) {
	var engine models.EngineDefinition

	if err := er.store.read(id, &engine); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return nil, persistence.NewEngineError("GetByID", id, persistence.ErrEngineNotFound)
		}

		return nil, persistence.NewEngineError("GetByID", id, err)
	}

	return &engine, nil
}

func (er *EngineRepository) List(_ context.Context) ([]*models.EngineDefinition, error) {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	ids, err := er.store.ids()
	if err != nil {
		return nil, err
	}

	engines := make([]*models.EngineDefinition, 0, len(ids))

	for _, id := range ids {
		engine, err := er.get(id)
		if err != nil {
			return nil, err
		}

		engines = append(engines, engine)
	}

	return engines, nil
}
