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
)

// EngineRepository handles engine definition database operations.
type EngineRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEngineRepository(db *sql.DB, logger *slog.Logger) *EngineRepository {
	return &EngineRepository{db: db, logger: logger}
}

// Save upserts an engine definition.
func (er *EngineRepository) Save(ctx context.Context, engine *models.EngineDefinition) error {
	nodesJSON, err := json.Marshal(engine.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edgesJSON, err := json.Marshal(engine.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	modelsJSON, err := json.Marshal(engine.Models)
	if err != nil {
		return fmt.Errorf("failed to marshal model bindings: %w", err)
	}

	now := time.Now().UTC()
	if engine.CreatedAt.IsZero() {
		engine.CreatedAt = now
	}

	engine.UpdatedAt = now

	query := `
		INSERT INTO engines (id, user_id, name, api_key_hash, nodes, edges, models, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			api_key_hash = EXCLUDED.api_key_hash,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			models = EXCLUDED.models,
			updated_at = EXCLUDED.updated_at
	`

	_, err = er.db.ExecContext(ctx, query,
		engine.ID,
		engine.UserID,
		engine.Name,
		engine.APIKeyHash,
		nodesJSON,
		edgesJSON,
		modelsJSON,
		engine.CreatedAt,
		engine.UpdatedAt,
	)
	if err != nil {
		return persistence.NewEngineError("Save", engine.ID, err)
	}

	return nil
}

func (er *EngineRepository) GetByID(ctx context.Context, id string) (*models.EngineDefinition, error) {
	row := er.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, api_key_hash, nodes, edges, models, created_at, updated_at
		FROM engines WHERE id = $1
	`, id)

	engine, err := scanEngine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEngineError("GetByID", id, persistence.ErrEngineNotFound)
		}

		return nil, fmt.Errorf("failed to scan engine: %w", err)
	}

	return engine, nil
}

func (er *EngineRepository) List(ctx context.Context) ([]*models.EngineDefinition, error) {
	rows, err := er.db.QueryContext(ctx, `
		SELECT id, user_id, name, api_key_hash, nodes, edges, models, created_at, updated_at
		FROM engines ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query engines: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	engines := make([]*models.EngineDefinition, 0)

	for rows.Next() {
		engine, err := scanEngine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan engine: %w", err)
		}

		engines = append(engines, engine)
	}

	return engines, rows.Err()
}

func scanEngine(row scanner) (*models.EngineDefinition, error) {
	var (
		engine                           models.EngineDefinition
		nodesJSON, edgesJSON, modelsJSON []byte
	)

	err := row.Scan(
		&engine.ID,
		&engine.UserID,
		&engine.Name,
		&engine.APIKeyHash,
		&nodesJSON,
		&edgesJSON,
		&modelsJSON,
		&engine.CreatedAt,
		&engine.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(nodesJSON, &engine.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	if err := json.Unmarshal(edgesJSON, &engine.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if err := json.Unmarshal(modelsJSON, &engine.Models); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model bindings: %w", err)
	}

	return &engine, nil
}
