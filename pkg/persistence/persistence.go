// Package persistence provides the data storage abstraction layer for
// executions, engine definitions, book artifacts and the token ledger.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/inkwell/pkg/models"
)

type Persistence interface {
	ExecutionRepository() ExecutionRepository
	EngineRepository() EngineRepository
	BookRepository() BookRepository
	LedgerRepository() LedgerRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository stores one row per execution. The row is the single
// source of truth for status and execution data.
type ExecutionRepository interface {
	Create(ctx context.Context, record *models.ExecutionRecord) error
	GetByID(ctx context.Context, id string) (*models.ExecutionRecord, error)
	SaveSnapshot(ctx context.Context, id string, snapshot models.ProgressSnapshot) error
	// Finish moves a running execution to a terminal status. It reports false
	// without writing when the row is no longer running.
	Finish(ctx context.Context, id string, outcome models.ExecutionOutcome) (bool, error)
	// AddUsage adds usage incurred after settlement, e.g. by regeneration.
	AddUsage(ctx context.Context, id string, tokens int64, cost float64) error
	ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error)
	// ListStale returns running executions whose last update is before the cutoff.
	ListStale(ctx context.Context, before time.Time) ([]*models.ExecutionRecord, error)
}

type EngineRepository interface {
	Save(ctx context.Context, engine *models.EngineDefinition) error
	GetByID(ctx context.Context, id string) (*models.EngineDefinition, error)
	List(ctx context.Context) ([]*models.EngineDefinition, error)
}

// BookRepository keeps exactly one book per execution id.
type BookRepository interface {
	UpsertByExecution(ctx context.Context, book *models.BookArtifact) (*models.BookArtifact, error)
	GetByExecution(ctx context.Context, executionID string) (*models.BookArtifact, error)
}

type LedgerRepository interface {
	Debit(ctx context.Context, entry *models.TokenLedgerEntry) error
	Credit(ctx context.Context, userID string, amount int64) error
	LogUsage(ctx context.Context, usage *models.UsageLog) error
	EntriesByExecution(ctx context.Context, executionID string) ([]*models.TokenLedgerEntry, error)
	Balance(ctx context.Context, userID string) (int64, error)
}
