package file

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/google/uuid"
)

type balance struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerRepository keeps ledger entries, user balances and usage logs as
// separate document directories.
type LedgerRepository struct {
	entries  *store
	balances *store
	usage    *store
}

// Debit records the entry and lowers the user's balance by its amount.
func (lr *LedgerRepository) Debit(_ context.Context, entry *models.TokenLedgerEntry) error {
	if entry.Amount <= 0 {
		return persistence.ErrInvalidAmount
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.DebitedAt.IsZero() {
		entry.DebitedAt = time.Now().UTC()
	}

	lr.entries.mu.Lock()
	defer lr.entries.mu.Unlock()

	if err := lr.adjust(entry.UserID, -entry.Amount); err != nil {
		return err
	}

	if err := lr.entries.write(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}

	return nil
}

// Credit raises the user's balance.
func (lr *LedgerRepository) Credit(_ context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return persistence.ErrInvalidAmount
	}

	lr.entries.mu.Lock()
	defer lr.entries.mu.Unlock()

	return lr.adjust(userID, amount)
}

func (lr *LedgerRepository) adjust(userID string, delta int64) error {
	lr.balances.mu.Lock()
	defer lr.balances.mu.Unlock()

	current := balance{UserID: userID}

	if err := lr.balances.read(userID, &current); err != nil && !errors.Is(err, errDocumentNotFound) {
		return fmt.Errorf("failed to read balance for %s: %w", userID, err)
	}

	current.Balance += delta
	current.UpdatedAt = time.Now().UTC()

	if err := lr.balances.write(userID, current); err != nil {
		return fmt.Errorf("failed to write balance for %s: %w", userID, err)
	}

	return nil
}

func (lr *LedgerRepository) LogUsage(_ context.Context, usage *models.UsageLog) error {
	if usage.LoggedAt.IsZero() {
		usage.LoggedAt = time.Now().UTC()
	}

	lr.usage.mu.Lock()
	defer lr.usage.mu.Unlock()

	id := fmt.Sprintf("%d-%s", usage.LoggedAt.UnixNano(), uuid.NewString())

	if err := lr.usage.write(id, usage); err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}

	return nil
}

// EntriesByExecution returns the entries of an execution in debit order.
func (lr *LedgerRepository) EntriesByExecution(_ context.Context, executionID string) ([]*models.TokenLedgerEntry, error) {
	lr.entries.mu.Lock()
	defer lr.entries.mu.Unlock()

	ids, err := lr.entries.ids()
	if err != nil {
		return nil, err
	}

	entries := make([]*models.TokenLedgerEntry, 0)

	for _, id := range ids {
		var entry models.TokenLedgerEntry
		if err := lr.entries.read(id, &entry); err != nil {
			return nil, fmt.Errorf("failed to read ledger entry %s: %w", id, err)
		}

		if entry.ExecutionID == executionID {
			entries = append(entries, &entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DebitedAt.Before(entries[j].DebitedAt)
	})

	return entries, nil
}

func (lr *LedgerRepository) Balance(_ context.Context, userID string) (int64, error) {
	lr.balances.mu.Lock()
	defer lr.balances.mu.Unlock()

	var current balance

	if err := lr.balances.read(userID, &current); err != nil {
		if errors.Is(err, errDocumentNotFound) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read balance for %s: %w", userID, err)
	}

	return current.Balance, nil
}
