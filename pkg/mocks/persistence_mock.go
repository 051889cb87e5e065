package mocks

import (
	"context"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Executions *MockExecutionRepository
	Engines    *MockEngineRepository
	Books      *MockBookRepository
	Ledger     *MockLedgerRepository
}

// NewMockPersistence wires fresh repository mocks.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Executions: &MockExecutionRepository{},
		Engines:    &MockEngineRepository{},
		Books:      &MockBookRepository{},
		Ledger:     &MockLedgerRepository{},
	}
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository { return m.Executions }
func (m *MockPersistence) EngineRepository() persistence.EngineRepository       { return m.Engines }
func (m *MockPersistence) BookRepository() persistence.BookRepository           { return m.Books }
func (m *MockPersistence) LedgerRepository() persistence.LedgerRepository       { return m.Ledger }

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, record *models.ExecutionRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionRepository) SaveSnapshot(ctx context.Context, id string, snapshot models.ProgressSnapshot) error {
	args := m.Called(ctx, id, snapshot)

	return args.Error(0)
}

func (m *MockExecutionRepository) Finish(ctx context.Context, id string, outcome models.ExecutionOutcome) (bool, error) {
	args := m.Called(ctx, id, outcome)

	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) AddUsage(ctx context.Context, id string, tokens int64, cost float64) error {
	args := m.Called(ctx, id, tokens, cost)

	return args.Error(0)
}

func (m *MockExecutionRepository) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRecord), args.Error(1)
}

func (m *MockExecutionRepository) ListStale(ctx context.Context, before time.Time) ([]*models.ExecutionRecord, error) {
	args := m.Called(ctx, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionRecord), args.Error(1)
}

// MockEngineRepository is a mock implementation of persistence.EngineRepository interface.
type MockEngineRepository struct {
	mock.Mock
}

func (m *MockEngineRepository) Save(ctx context.Context, engine *models.EngineDefinition) error {
	args := m.Called(ctx, engine)

	return args.Error(0)
}

func (m *MockEngineRepository) GetByID(ctx context.Context, id string) (*models.EngineDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.EngineDefinition), args.Error(1)
}

func (m *MockEngineRepository) List(ctx context.Context) ([]*models.EngineDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.EngineDefinition), args.Error(1)
}

// MockBookRepository is a mock implementation of persistence.BookRepository interface.
type MockBookRepository struct {
	mock.Mock
}

func (m *MockBookRepository) UpsertByExecution(ctx context.Context, book *models.BookArtifact) (*models.BookArtifact, error) {
	args := m.Called(ctx, book)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.BookArtifact), args.Error(1)
}

func (m *MockBookRepository) GetByExecution(ctx context.Context, executionID string) (*models.BookArtifact, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.BookArtifact), args.Error(1)
}

// MockLedgerRepository is a mock implementation of persistence.LedgerRepository interface.
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) Debit(ctx context.Context, entry *models.TokenLedgerEntry) error {
	args := m.Called(ctx, entry)

	return args.Error(0)
}

func (m *MockLedgerRepository) Credit(ctx context.Context, userID string, amount int64) error {
	args := m.Called(ctx, userID, amount)

	return args.Error(0)
}

func (m *MockLedgerRepository) LogUsage(ctx context.Context, usage *models.UsageLog) error {
	args := m.Called(ctx, usage)

	return args.Error(0)
}

func (m *MockLedgerRepository) EntriesByExecution(ctx context.Context, executionID string) ([]*models.TokenLedgerEntry, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.TokenLedgerEntry), args.Error(1)
}

func (m *MockLedgerRepository) Balance(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)

	return args.Get(0).(int64), args.Error(1)
}
