package regeneration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/inkwell/pkg/artifact"
	"github.com/dukex/inkwell/pkg/events"
	"github.com/dukex/inkwell/pkg/ledger"
	"github.com/dukex/inkwell/pkg/mocks"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/dukex/inkwell/pkg/persistence/file"
	"github.com/dukex/inkwell/pkg/progress"
	"github.com/dukex/inkwell/pkg/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store      persistence.Persistence
	aggregator *progress.Aggregator
	executor   *mocks.MockExecutor
	bus        *mocks.MockEventBus
	controller *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.EngineRepository().Save(ctx, &models.EngineDefinition{
		ID:     "engine-1",
		UserID: "user-1",
		Name:   "Novel",
		Nodes: []models.Node{
			{ID: "ch1", Name: "Chapter One", Type: models.NodeTypeGenerate, Provider: "openai", Model: "gpt-4o"},
			{ID: "compile", Name: "Compile", Type: models.NodeTypeCompile, Position: 1},
		},
		Edges: []models.Edge{{Source: "ch1", Target: "compile"}},
	}))

	require.NoError(t, store.ExecutionRepository().Create(ctx, &models.ExecutionRecord{
		ID:         "exec-1",
		UserID:     "user-1",
		EngineID:   "engine-1",
		Status:     models.ExecutionStatusRunning,
		TokensUsed: 100,
		ExecutionData: models.ProgressSnapshot{
			CheckpointData: map[string]any{"completed_nodes": []any{"ch1"}, "sequence": 2},
			AllFormats:     map[string]any{"markdown": "# Book\n\noriginal"},
		},
	}))

	_, err := store.ExecutionRepository().Finish(ctx, "exec-1", models.ExecutionOutcome{
		Status:     models.ExecutionStatusFailed,
		Message:    "node ch1: quality gate failure",
		TokensUsed: 100,
	})
	require.NoError(t, err)

	aggregator := progress.NewAggregator(store.ExecutionRepository(), logger)
	executor := &mocks.MockExecutor{}
	bus := &mocks.MockEventBus{}
	persister := artifact.NewPersister(local.New(t.TempDir(), "https://books.example.com", logger), store.BookRepository(), "books", logger)

	controller := NewController(
		store.ExecutionRepository(),
		store.EngineRepository(),
		aggregator,
		executor,
		ledger.New(store.LedgerRepository(), nil, nil, logger),
		logger,
		WithPersister(persister),
		WithPublisher(bus),
	)

	return &fixture{store: store, aggregator: aggregator, executor: executor, bus: bus, controller: controller}
}

func regeneratedResult() *models.GraphResult {
	return &models.GraphResult{
		NodeOutputs: map[string]any{
			"ch1": map[string]any{"content": "A better opening.", "title": "Chapter One"},
			"compile": map[string]any{"book": map[string]any{
				"title":    "Book",
				"sections": []any{map[string]any{"title": "Chapter One", "content": "A better opening.", "word_count": 3}},
			}},
		},
		TotalTokensUsed: 20,
		TokenLedger:     []models.UsageRecord{{NodeID: "ch1", Provider: "openai", Model: "gpt-4o", Tokens: 20, Cost: 0.001}},
	}
}

func emitRegenerated(args mock.Arguments) {
	req := args.Get(1).(models.ResumeRequest)
	callback := args.Get(2).(models.ProgressCallback)
	sequence := 3

	callback(models.ProgressUpdate{
		NodeID:   "ch1",
		Status:   "completed",
		Sequence: &sequence,
		Output:   map[string]any{"content": "A better opening.", "words": 3},
		Tokens:   20,
		Patch: &models.SnapshotPatch{
			AllFormats: map[string]any{"markdown": fmt.Sprintf("# Book\n\nattempt %d", req.Attempt)},
		},
	})
}

func TestController_RegenerateUpToCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.executor.On("Resume", mock.Anything, mock.MatchedBy(func(req models.ResumeRequest) bool {
		return req.TargetNodeID == "ch1" && req.ValidationError == "too short"
	}), mock.Anything).Run(emitRegenerated).Return(regeneratedResult(), nil)
	f.bus.On("Publish", mock.Anything, "exec-1", mock.AnythingOfType("events.NodeRegenerated")).Return(nil)

	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		result, err := f.controller.Regenerate(ctx, Request{ExecutionID: "exec-1", NodeID: "ch1", ValidationError: "too short", UserID: "user-1"})
		require.NoError(t, err)

		assert.Equal(t, attempt, result.Attempt)
		assert.Equal(t, int64(20), result.Charged.Tokens)
		assert.Equal(t, attempt, result.Snapshot.RegenerationAttempts["ch1"].Count)
		assert.Contains(t, result.FormatURLs["markdown"], "https://books.example.com/books/user-1/exec-1/book.md")
	}

	result, err := f.controller.Regenerate(ctx, Request{ExecutionID: "exec-1", NodeID: "ch1", ValidationError: "too short"})
	require.Error(t, err)

	assert.Nil(t, result)
	assert.True(t, orchestration.IsRegenerationLimitExceeded(err))
	f.executor.AssertNumberOfCalls(t, "Resume", DefaultMaxAttempts)
	f.bus.AssertNumberOfCalls(t, "Publish", DefaultMaxAttempts)

	record, err := f.store.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Equal(t, int64(160), record.TokensUsed)
	assert.Equal(t, 3, record.ExecutionData.RegenerationAttempts["ch1"].Count)
	assert.Equal(t, "too short", record.ExecutionData.RegenerationAttempts["ch1"].LastError)
	assert.Equal(t, "# Book\n\nattempt 3", record.ExecutionData.AllFormats["markdown"])
	assert.Empty(t, record.ExecutionData.Error)

	entries, err := f.store.LedgerRepository().EntriesByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for _, entry := range entries {
		assert.Equal(t, models.LedgerEntryRegeneration, entry.Kind)
		assert.Equal(t, int64(20), entry.Amount)
		assert.Equal(t, "engine-1", entry.EngineID)
	}

	book, err := f.store.BookRepository().GetByExecution(ctx, "exec-1")
	require.NoError(t, err)

	assert.Equal(t, "Book", book.Title)
	assert.EqualValues(t, 3, book.Metadata["attempt"])
}

func TestController_RefusesPastCapWithoutCallingExecutor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.aggregator.Open("exec-1", models.ProgressSnapshot{})
	_, err := f.aggregator.Patch(ctx, "exec-1", models.SnapshotPatch{
		CheckpointData:       map[string]any{"sequence": 2},
		RegenerationAttempts: map[string]models.RegenerationAttempt{"ch1": {Count: 3}},
	})
	require.NoError(t, err)
	f.aggregator.Close(ctx, "exec-1")

	_, err = f.controller.Regenerate(ctx, Request{ExecutionID: "exec-1", NodeID: "ch1"})

	assert.ErrorIs(t, err, orchestration.ErrRegenerationLimitExceeded)
	f.executor.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything, mock.Anything)
	f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestController_FailureStillCharges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	partial := &models.GraphResult{
		NodeOutputs: map[string]any{},
		TokenLedger: []models.UsageRecord{{NodeID: "ch1", Provider: "openai", Model: "gpt-4o", Tokens: 15}},
	}
	runErr := fmt.Errorf("node ch1: %w", orchestration.ErrProviderError)

	f.executor.On("Resume", mock.Anything, mock.Anything, mock.Anything).Return(partial, runErr)
	f.bus.On("Publish", mock.Anything, "exec-1", mock.MatchedBy(func(event events.NodeRegenerated) bool {
		return !event.Success && event.TokensUsed == 15 && event.Error != ""
	})).Return(errors.New("broker down"))

	result, err := f.controller.Regenerate(ctx, Request{ExecutionID: "exec-1", NodeID: "ch1"})
	require.Error(t, err)

	assert.True(t, orchestration.IsProviderError(err))
	require.NotNil(t, result)
	assert.Equal(t, int64(15), result.Charged.Tokens)
	assert.Empty(t, result.FormatURLs)

	record, err := f.store.ExecutionRepository().GetByID(ctx, "exec-1")
	require.NoError(t, err)

	assert.Equal(t, int64(115), record.TokensUsed)
	assert.Equal(t, 1, record.ExecutionData.RegenerationAttempts["ch1"].Count)
	f.bus.AssertExpectations(t)
}

func TestController_Rejections(t *testing.T) {
	t.Run("busy execution", func(t *testing.T) {
		f := newFixture(t)
		f.aggregator.Open("exec-1", models.ProgressSnapshot{})

		_, err := f.controller.Regenerate(context.Background(), Request{ExecutionID: "exec-1", NodeID: "ch1"})

		assert.ErrorIs(t, err, ErrExecutionBusy)
		f.executor.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("foreign user", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.controller.Regenerate(context.Background(), Request{ExecutionID: "exec-1", NodeID: "ch1", UserID: "user-2"})

		assert.True(t, orchestration.IsAuthorizationFailure(err))
	})

	t.Run("unknown node", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.controller.Regenerate(context.Background(), Request{ExecutionID: "exec-1", NodeID: "epilogue"})

		assert.ErrorIs(t, err, orchestration.ErrInvalidRequest)
	})

	t.Run("unknown execution", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.controller.Regenerate(context.Background(), Request{ExecutionID: "exec-404", NodeID: "ch1"})

		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("no checkpoint", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		require.NoError(t, f.store.ExecutionRepository().Create(ctx, &models.ExecutionRecord{
			ID: "exec-2", UserID: "user-1", EngineID: "engine-1", Status: models.ExecutionStatusRunning,
		}))

		_, err := f.controller.Regenerate(ctx, Request{ExecutionID: "exec-2", NodeID: "ch1"})

		assert.ErrorIs(t, err, ErrNoCheckpoint)
	})

	t.Run("corrupt checkpoint", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		require.NoError(t, f.store.ExecutionRepository().Create(ctx, &models.ExecutionRecord{
			ID: "exec-3", UserID: "user-1", EngineID: "engine-1", Status: models.ExecutionStatusFailed,
			ExecutionData: models.ProgressSnapshot{
				CheckpointData: map[string]any{"completed_nodes": "ch1", "sequence": "two"},
			},
		}))

		_, err := f.controller.Regenerate(ctx, Request{ExecutionID: "exec-3", NodeID: "ch1"})

		assert.ErrorIs(t, err, ErrNoCheckpoint)
		f.executor.AssertNotCalled(t, "Resume", mock.Anything, mock.Anything, mock.Anything)

		record, err := f.store.ExecutionRepository().GetByID(ctx, "exec-3")
		require.NoError(t, err)
		assert.Empty(t, record.ExecutionData.RegenerationAttempts)
	})
}

func TestController_ConcurrentRegenerationReadsFreshAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var concurrentErr error

	f.executor.On("Resume", mock.Anything, mock.MatchedBy(func(req models.ResumeRequest) bool {
		return req.Attempt == 1
	}), mock.Anything).Run(func(args mock.Arguments) {
		emitRegenerated(args)

		_, concurrentErr = f.controller.Regenerate(ctx, Request{ExecutionID: "exec-1", NodeID: "ch1"})
	}).Return(regeneratedResult(), nil).Once()
	f.executor.On("Resume", mock.Anything, mock.MatchedBy(func(req models.ResumeRequest) bool {
		return req.Attempt == 2
	}), mock.Anything).Run(emitRegenerated).Return(regeneratedResult(), nil).Once()
	f.bus.On("Publish", mock.Anything, "exec-1", mock.AnythingOfType("events.NodeRegenerated")).Return(nil)

	first, err := f.controller.Regenerate(ctx, Request{ExecutionID: "exec-1", NodeID: "ch1"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)
	assert.ErrorIs(t, concurrentErr, ErrExecutionBusy)

	second, err := f.controller.Regenerate(ctx, Request{ExecutionID: "exec-1", NodeID: "ch1"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)
	assert.Equal(t, "# Book\n\nattempt 2", second.Snapshot.AllFormats["markdown"])

	f.executor.AssertNumberOfCalls(t, "Resume", 2)
}
