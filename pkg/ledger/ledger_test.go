package ledger_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/inkwell/pkg/ledger"
	"github.com/dukex/inkwell/pkg/metrics"
	"github.com/dukex/inkwell/pkg/mocks"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestUsageOf(t *testing.T) {
	t.Parallel()

	l := ledger.New(&mocks.MockLedgerRepository{}, nil, nil, slog.Default())

	t.Run("executor totals win", func(t *testing.T) {
		usage := l.UsageOf(models.ProgressSnapshot{Metrics: models.Metrics{Tokens: 1}}, &models.GraphResult{
			TotalTokensUsed: 900, TotalCostIncurred: 0.2, TotalWordsGenerated: 400,
		})

		assert.Equal(t, ledger.Usage{Tokens: 900, Cost: 0.2, Words: 400}, usage)
	})

	t.Run("falls back to node results when nothing was tracked", func(t *testing.T) {
		snapshot := models.ProgressSnapshot{
			NodeResults: map[string]models.NodeResult{
				"a": {"tokens_used": 100, "wordCount": 50, "cost_usd": 0.01},
				"b": {"totalTokens": 200, "words": 70, "cost": 0.02},
			},
		}

		usage := l.UsageOf(snapshot, &models.GraphResult{})

		assert.Equal(t, int64(300), usage.Tokens)
		assert.Equal(t, int64(120), usage.Words)
		assert.InDelta(t, 0.03, usage.Cost, 1e-9)
	})

	t.Run("prices tokens without a reported cost", func(t *testing.T) {
		snapshot := models.ProgressSnapshot{
			NodeResults: map[string]models.NodeResult{
				"a": {"tokens": 1_000_000, "provider": "openai", "model": "gpt-4o"},
			},
		}

		usage := l.UsageOf(snapshot, nil)

		assert.Equal(t, int64(1_000_000), usage.Tokens)
		assert.InDelta(t, 6.25, usage.Cost, 1e-9)
	})
}

func TestSettle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("debits once with execution and engine tags", func(t *testing.T) {
		repo := &mocks.MockLedgerRepository{}
		repo.On("LogUsage", ctx, mock.Anything).Return(nil)
		repo.On("Debit", ctx, mock.MatchedBy(func(entry *models.TokenLedgerEntry) bool {
			return entry.ExecutionID == "exec-1" &&
				entry.EngineID == "engine-1" &&
				entry.UserID == "user-1" &&
				entry.Kind == models.LedgerEntrySettlement &&
				entry.Amount == 500
		})).Return(nil).Once()

		m := metrics.NewNop()
		l := ledger.New(repo, nil, m, slog.Default())

		debited := l.Settle(ctx, ledger.Settlement{
			ExecutionID: "exec-1",
			UserID:      "user-1",
			EngineID:    "engine-1",
			Status:      models.ExecutionStatusCompleted,
			Result: &models.GraphResult{
				TotalTokensUsed: 500,
				TokenLedger:     []models.UsageRecord{{NodeID: "n1", Provider: "openai", Model: "gpt-4o", Tokens: 500}},
			},
		})

		assert.Equal(t, int64(500), debited)
		repo.AssertExpectations(t)
		assert.InDelta(t, 500.0, testutil.ToFloat64(m.TokensDebited.WithLabelValues("settlement")), 0.0001)
	})

	t.Run("debit failure is swallowed", func(t *testing.T) {
		repo := &mocks.MockLedgerRepository{}
		repo.On("Debit", ctx, mock.Anything).Return(errors.New("balance service down"))

		m := metrics.NewNop()
		l := ledger.New(repo, nil, m, slog.Default())

		debited := l.Settle(ctx, ledger.Settlement{
			ExecutionID: "exec-1",
			UserID:      "user-1",
			Status:      models.ExecutionStatusFailed,
			Snapshot:    models.ProgressSnapshot{Metrics: models.Metrics{Tokens: 10}},
		})

		assert.Zero(t, debited)
		assert.InDelta(t, 1.0, testutil.ToFloat64(m.DebitFailures), 0.0001)
	})

	t.Run("nothing to settle", func(t *testing.T) {
		repo := &mocks.MockLedgerRepository{}
		l := ledger.New(repo, nil, nil, slog.Default())

		assert.Zero(t, l.Settle(ctx, ledger.Settlement{ExecutionID: "exec-1", UserID: "user-1"}))
		repo.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything)
	})
}

func TestCharge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	repo := &mocks.MockLedgerRepository{}
	repo.On("LogUsage", ctx, mock.Anything).Return(nil)
	repo.On("Debit", ctx, mock.MatchedBy(func(entry *models.TokenLedgerEntry) bool {
		return entry.Kind == models.LedgerEntryRegeneration
	})).Return(nil)

	l := ledger.New(repo, nil, nil, slog.Default())

	charged, err := l.Charge(ctx, "exec-1", "user-1", "engine-1", "regenerate chapter-2", []models.UsageRecord{
		{NodeID: "chapter-2", Provider: "anthropic", Model: "claude-3-5-sonnet", Tokens: 2_000_000},
		{NodeID: "chapter-2", Provider: "openai", Tokens: 0},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2_000_000), charged.Tokens)
	assert.InDelta(t, 18.0, charged.Cost, 1e-9)
	repo.AssertNumberOfCalls(t, "Debit", 1)
}
