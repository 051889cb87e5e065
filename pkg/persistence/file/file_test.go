package file

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	p := NewPersistence("file:///tmp/test")
	fp := p.(*Persistence)
	assert.Equal(t, "/tmp/test", fp.root)

	assert.NoError(t, p.Close(t.Context()))
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
}

func runningRecord(id string) *models.ExecutionRecord {
	return &models.ExecutionRecord{
		ID:       id,
		UserID:   "user-1",
		EngineID: "engine-1",
		Status:   models.ExecutionStatusRunning,
	}
}

func TestExecutionRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).ExecutionRepository()

	require.NoError(t, repo.Create(ctx, runningRecord("exec-1")))

	t.Run("duplicate create is rejected", func(t *testing.T) {
		err := repo.Create(ctx, runningRecord("exec-1"))
		assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
	})

	t.Run("snapshot round trip", func(t *testing.T) {
		snapshot := models.ProgressSnapshot{
			Progress:    50,
			NodeResults: map[string]models.NodeResult{"n1": {"content": "hello"}},
			Metrics:     models.Metrics{Tokens: 10},
		}

		require.NoError(t, repo.SaveSnapshot(ctx, "exec-1", snapshot))

		record, err := repo.GetByID(ctx, "exec-1")
		require.NoError(t, err)
		assert.InDelta(t, 50.0, record.ExecutionData.Progress, 0.0001)
		assert.Equal(t, "hello", record.ExecutionData.NodeResults["n1"]["content"])
	})

	t.Run("finish is one way", func(t *testing.T) {
		transitioned, err := repo.Finish(ctx, "exec-1", models.ExecutionOutcome{
			Status:     models.ExecutionStatusFailed,
			Message:    "cancelled by user",
			TokensUsed: 42,
		})
		require.NoError(t, err)
		assert.True(t, transitioned)

		transitioned, err = repo.Finish(ctx, "exec-1", models.ExecutionOutcome{Status: models.ExecutionStatusCompleted})
		require.NoError(t, err)
		assert.False(t, transitioned)

		record, err := repo.GetByID(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, record.Status)
		assert.Equal(t, "cancelled by user", record.ErrorMessage)
		assert.Equal(t, int64(42), record.TokensUsed)
		assert.NotNil(t, record.CompletedAt)
	})

	t.Run("finish rejects non terminal status", func(t *testing.T) {
		_, err := repo.Finish(ctx, "exec-1", models.ExecutionOutcome{Status: models.ExecutionStatusRunning})
		assert.ErrorIs(t, err, persistence.ErrInvalidExecutionStatus)
	})

	t.Run("add usage accumulates", func(t *testing.T) {
		require.NoError(t, repo.AddUsage(ctx, "exec-1", 8, 0.5))

		record, err := repo.GetByID(ctx, "exec-1")
		require.NoError(t, err)
		assert.Equal(t, int64(50), record.TokensUsed)
	})

	t.Run("missing execution", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "nope")
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "../etc")
		require.Error(t, err)
		assert.False(t, persistence.IsExecutionNotFound(err))
	})
}

func TestExecutionRepository_ConcurrentFinish(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).ExecutionRepository()
	require.NoError(t, repo.Create(ctx, runningRecord("exec-race")))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, err := repo.Finish(ctx, "exec-race", models.ExecutionOutcome{Status: models.ExecutionStatusCompleted})
			assert.NoError(t, err)

			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestExecutionRepository_Lists(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).ExecutionRepository()

	old := runningRecord("old")
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, runningRecord("fresh")))

	done := runningRecord("done")
	done.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.Create(ctx, done))
	_, err := repo.Finish(ctx, "done", models.ExecutionOutcome{Status: models.ExecutionStatusCompleted})
	require.NoError(t, err)

	running, err := repo.ListByStatus(ctx, models.ExecutionStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "old", running[0].ID)

	stale, err := repo.ListStale(ctx, time.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestEngineRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).EngineRepository()

	engine := &models.EngineDefinition{
		ID:     "engine-1",
		UserID: "user-1",
		Name:   "Novel",
		Nodes:  []models.Node{{ID: "n1", Name: "Input", Type: models.NodeTypeInput}},
	}

	require.NoError(t, repo.Save(ctx, engine))
	assert.False(t, engine.CreatedAt.IsZero())

	loaded, err := repo.GetByID(ctx, "engine-1")
	require.NoError(t, err)
	assert.Equal(t, "Novel", loaded.Name)
	assert.Len(t, loaded.Nodes, 1)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsEngineNotFound(err))
}

func TestBookRepository_UpsertByExecution(t *testing.T) {
	ctx := t.Context()
	dir := t.TempDir()
	repo := NewPersistence(dir).BookRepository()

	first, err := repo.UpsertByExecution(ctx, &models.BookArtifact{
		UserID:     "user-1",
		Title:      "Draft",
		FormatURLs: map[string]string{"markdown": "v1"},
		Metadata:   map[string]any{"execution_id": "exec-1"},
	})
	require.NoError(t, err)

	second, err := repo.UpsertByExecution(ctx, &models.BookArtifact{
		UserID:     "user-1",
		Title:      "Final",
		FormatURLs: map[string]string{"markdown": "v2"},
		Metadata:   map[string]any{"execution_id": "exec-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	loaded, err := repo.GetByExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", loaded.FormatURLs["markdown"])

	files, err := filepath.Glob(filepath.Join(dir, "books", "*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = repo.UpsertByExecution(ctx, &models.BookArtifact{Title: "orphan"})
	assert.Error(t, err)

	_, err = repo.GetByExecution(ctx, "exec-2")
	assert.True(t, persistence.IsBookNotFound(err))
}

func TestLedgerRepository(t *testing.T) {
	ctx := t.Context()
	repo := NewPersistence(t.TempDir()).LedgerRepository()

	require.NoError(t, repo.Credit(ctx, "user-1", 1000))
	require.NoError(t, repo.Debit(ctx, &models.TokenLedgerEntry{
		ExecutionID: "exec-1", UserID: "user-1", Kind: models.LedgerEntrySettlement, Tokens: 300, Amount: 300,
	}))
	require.NoError(t, repo.Debit(ctx, &models.TokenLedgerEntry{
		ExecutionID: "exec-2", UserID: "user-1", Kind: models.LedgerEntrySettlement, Tokens: 5, Amount: 5,
	}))

	balance, err := repo.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(695), balance)

	entries, err := repo.EntriesByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(300), entries[0].Tokens)
	assert.NotEmpty(t, entries[0].ID)

	assert.ErrorIs(t, repo.Debit(ctx, &models.TokenLedgerEntry{UserID: "user-1"}), persistence.ErrInvalidAmount)
	require.NoError(t, repo.LogUsage(ctx, &models.UsageLog{UserID: "user-1", Provider: "openai", Tokens: 3}))

	balance, err = repo.Balance(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, balance)
}
