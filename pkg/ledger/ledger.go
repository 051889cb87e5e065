// Package ledger computes token and cost usage of executions and debits it
// from user balances.
package ledger

import (
	"context"
	"log/slog"
	"math"

	"github.com/dukex/inkwell/pkg/metrics"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/dukex/inkwell/pkg/progress"
	"github.com/jonboulle/clockwork"
)

const settlementReason = "book generation"

// Usage is what an execution consumed.
type Usage struct {
	Tokens int64
	Cost   float64
	Words  int64
}

// Settlement describes a terminal outcome to be billed.
type Settlement struct {
	ExecutionID string
	UserID      string
	EngineID    string
	Status      models.ExecutionStatus
	Snapshot    models.ProgressSnapshot
	// Result is nil when the executor never resolved (failure, cancel, sweep).
	Result *models.GraphResult
}

// Ledger debits usage through the ledger repository.
type Ledger struct {
	repo    persistence.LedgerRepository
	pricing Pricing
	metrics *metrics.Metrics
	clock   clockwork.Clock
	logger  *slog.Logger
}

func New(repo persistence.LedgerRepository, pricing Pricing, m *metrics.Metrics, logger *slog.Logger) *Ledger {
	if pricing == nil {
		pricing = DefaultPricing()
	}

	if m == nil {
		m = metrics.NewNop()
	}

	return &Ledger{
		repo:    repo,
		pricing: pricing,
		metrics: m,
		clock:   clockwork.NewRealClock(),
		logger:  logger.With("module", "token_ledger"),
	}
}

// Pricing returns the price list used for costing.
func (l *Ledger) Pricing() Pricing {
	return l.pricing
}

// UsageOf computes the billable usage of an execution. The executor's own
// tracking wins; when it tracked zero tokens the figures are summed out of
// every node result instead, so partial work is still billed.
func (l *Ledger) UsageOf(snapshot models.ProgressSnapshot, result *models.GraphResult) Usage {
	var usage Usage

	if result != nil {
		usage = Usage{
			Tokens: result.TotalTokensUsed,
			Cost:   result.TotalCostIncurred,
			Words:  result.TotalWordsGenerated,
		}
	}

	if usage.Tokens <= 0 {
		usage.Tokens = snapshot.Metrics.Tokens
	}

	if usage.Tokens <= 0 {
		fallback := l.sumNodeResults(snapshot.NodeResults)

		usage.Tokens = fallback.Tokens
		usage.Cost = math.Max(usage.Cost, fallback.Cost)
		usage.Words = max(usage.Words, fallback.Words)
	}

	if usage.Words <= 0 {
		usage.Words = snapshot.Metrics.Words
	}

	if usage.Cost <= 0 {
		usage.Cost = math.Max(snapshot.Metrics.Cost, l.priceNodeResults(snapshot.NodeResults))
	}

	return usage
}

func (l *Ledger) sumNodeResults(results map[string]models.NodeResult) Usage {
	var usage Usage

	for _, result := range results {
		nodeUsage := progress.ResultUsage(result)

		usage.Tokens += nodeUsage.Tokens
		usage.Cost += nodeUsage.Cost
		usage.Words += nodeUsage.Words
	}

	return usage
}

// priceNodeResults costs node results that report tokens with a known
// provider/model but no cost.
func (l *Ledger) priceNodeResults(results map[string]models.NodeResult) float64 {
	total := 0.0

	for _, result := range results {
		nodeUsage := progress.ResultUsage(result)
		if nodeUsage.Cost > 0 {
			total += nodeUsage.Cost

			continue
		}

		provider, _ := result["provider"].(string)
		model, _ := result["model"].(string)

		total += l.pricing.Cost(provider, model, models.TokenUsage{TotalTokens: nodeUsage.Tokens})
	}

	return total
}

// Settle debits the usage of a terminal outcome and returns the debited
// amount. Callers invoke it once per terminal transition. Failures are logged
// and reported as zero; they never affect the execution.
func (l *Ledger) Settle(ctx context.Context, s Settlement) int64 {
	usage := l.UsageOf(s.Snapshot, s.Result)

	logger := l.logger.With("execution_id", s.ExecutionID, "user_id", s.UserID, "status", s.Status)

	if s.Result != nil {
		l.logUsage(ctx, s.UserID, s.ExecutionID, s.Result.TokenLedger)
	}

	if usage.Tokens <= 0 {
		logger.InfoContext(ctx, "Nothing to settle")

		return 0
	}

	entry := &models.TokenLedgerEntry{
		ExecutionID: s.ExecutionID,
		UserID:      s.UserID,
		EngineID:    s.EngineID,
		Kind:        models.LedgerEntrySettlement,
		Reason:      settlementReason,
		Tokens:      usage.Tokens,
		Cost:        usage.Cost,
		Amount:      usage.Tokens,
		DebitedAt:   l.clock.Now().UTC(),
	}

	if err := l.repo.Debit(ctx, entry); err != nil {
		l.metrics.DebitFailures.Inc()
		logger.ErrorContext(ctx, "Failed to debit tokens", "tokens", usage.Tokens, "cost", usage.Cost, "error", err)

		return 0
	}

	l.metrics.TokensDebited.WithLabelValues(string(entry.Kind)).Add(float64(entry.Tokens))
	l.metrics.CostDebited.WithLabelValues(string(entry.Kind)).Add(entry.Cost)

	logger.InfoContext(ctx, "Settled execution usage", "tokens", usage.Tokens, "cost", usage.Cost, "words", usage.Words)

	return entry.Amount
}

// Charge appends entries for usage incurred after settlement, such as a
// regeneration. Previously settled amounts are never touched.
func (l *Ledger) Charge(ctx context.Context, executionID, userID, engineID, reason string, records []models.UsageRecord) (Usage, error) {
	var charged Usage

	l.logUsage(ctx, userID, executionID, records)

	for _, record := range records {
		if record.Tokens <= 0 {
			continue
		}

		cost := record.Cost
		if cost <= 0 {
			cost = l.pricing.Cost(record.Provider, record.Model, models.TokenUsage{TotalTokens: record.Tokens})
		}

		entry := &models.TokenLedgerEntry{
			ExecutionID: executionID,
			UserID:      userID,
			EngineID:    engineID,
			Provider:    record.Provider,
			Model:       record.Model,
			Kind:        models.LedgerEntryRegeneration,
			Reason:      reason,
			Tokens:      record.Tokens,
			Cost:        cost,
			Amount:      record.Tokens,
			DebitedAt:   l.clock.Now().UTC(),
		}

		if err := l.repo.Debit(ctx, entry); err != nil {
			l.metrics.DebitFailures.Inc()

			return charged, err
		}

		charged.Tokens += entry.Tokens
		charged.Cost += entry.Cost

		l.metrics.TokensDebited.WithLabelValues(string(entry.Kind)).Add(float64(entry.Tokens))
		l.metrics.CostDebited.WithLabelValues(string(entry.Kind)).Add(entry.Cost)
	}

	return charged, nil
}

func (l *Ledger) logUsage(ctx context.Context, userID, executionID string, records []models.UsageRecord) {
	for _, record := range records {
		err := l.repo.LogUsage(ctx, &models.UsageLog{
			UserID:      userID,
			ExecutionID: executionID,
			Provider:    record.Provider,
			Model:       record.Model,
			Tokens:      record.Tokens,
			Cost:        record.Cost,
			LoggedAt:    l.clock.Now().UTC(),
		})
		if err != nil {
			l.logger.WarnContext(ctx, "Failed to log usage", "execution_id", executionID, "error", err)
		}
	}
}
