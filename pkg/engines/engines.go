// Package engines resolves capability keys to engine definitions and imports
// new engines.
package engines

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "ink_"

type Service struct {
	engines  persistence.EngineRepository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewService(engines persistence.EngineRepository, logger *slog.Logger) *Service {
	return &Service{
		engines:  engines,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "engines"),
	}
}

// GenerateKey returns a new random capability key.
func GenerateKey() string {
	return keyPrefix + rand.Text()
}

func HashKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash engine key: %w", err)
	}

	return string(hash), nil
}

// Resolve returns the engine bound to the key. Unknown engines, foreign
// owners and wrong keys all fail with ErrAuthorizationFailure; the caller is
// never rescoped to another engine.
func (s *Service) Resolve(ctx context.Context, apiKey, engineID, userID string) (*models.EngineDefinition, error) {
	if apiKey == "" || engineID == "" || userID == "" {
		return nil, deny(engineID, "missing credentials")
	}

	engine, err := s.engines.GetByID(ctx, engineID)
	if err != nil {
		if persistence.IsEngineNotFound(err) {
			return nil, deny(engineID, "unknown engine")
		}

		return nil, fmt.Errorf("%w: failed to load engine %s: %w", orchestration.ErrPersistenceFailure, engineID, err)
	}

	if engine.UserID != userID {
		s.logger.WarnContext(ctx, "Engine key used by another user", "engine_id", engineID, "user_id", userID)

		return nil, deny(engineID, "engine not owned by caller")
	}

	if engine.APIKeyHash == "" {
		return nil, deny(engineID, "engine has no key")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(engine.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, deny(engineID, "key mismatch")
	}

	return engine, nil
}

// Import validates an engine, binds it to apiKey and saves it.
func (s *Service) Import(ctx context.Context, engine *models.EngineDefinition, apiKey string) error {
	if err := s.Validate(engine); err != nil {
		return err
	}

	hash, err := HashKey(apiKey)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if engine.CreatedAt.IsZero() {
		engine.CreatedAt = now
	}

	engine.UpdatedAt = now
	engine.APIKeyHash = hash

	if err := s.engines.Save(ctx, engine); err != nil {
		return fmt.Errorf("failed to save engine %s: %w", engine.ID, err)
	}

	s.logger.InfoContext(ctx, "Engine imported", "engine_id", engine.ID, "user_id", engine.UserID, "nodes", len(engine.Nodes))

	return nil
}

// Validate checks struct tags and the graph document.
func (s *Service) Validate(engine *models.EngineDefinition) error {
	if err := s.validate.Struct(engine); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidGraph, err)
	}

	return models.ValidateGraph(engine)
}

// ValidateAll checks every stored engine and returns the failures by id.
func (s *Service) ValidateAll(ctx context.Context) (map[string]error, error) {
	engines, err := s.engines.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list engines: %w", err)
	}

	failures := make(map[string]error)

	for _, engine := range engines {
		if err := s.Validate(engine); err != nil {
			failures[engine.ID] = err
		}
	}

	return failures, nil
}

func deny(engineID, reason string) error {
	return fmt.Errorf("%w: engine %s: %s", orchestration.ErrAuthorizationFailure, engineID, reason)
}
