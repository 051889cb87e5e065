package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/google/uuid"
)

// LedgerRepository handles token accounting.
type LedgerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLedgerRepository(db *sql.DB, logger *slog.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, logger: logger}
}

// Debit records the entry and lowers the balance in one transaction.
func (lr *LedgerRepository) Debit(ctx context.Context, entry *models.TokenLedgerEntry) error {
	if entry.Amount <= 0 {
		return persistence.ErrInvalidAmount
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if entry.DebitedAt.IsZero() {
		entry.DebitedAt = time.Now().UTC()
	}

	tx, err := lr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin debit transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO token_ledger (
			id, execution_id, user_id, engine_id, provider, model, kind, reason, tokens, cost, amount, debited_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		entry.ID,
		entry.ExecutionID,
		entry.UserID,
		entry.EngineID,
		entry.Provider,
		entry.Model,
		entry.Kind,
		entry.Reason,
		entry.Tokens,
		entry.Cost,
		entry.Amount,
		entry.DebitedAt,
	)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to record ledger entry: %w", err)
	}

	if err := adjustBalance(ctx, tx, entry.UserID, -entry.Amount); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit debit: %w", err)
	}

	return nil
}

func (lr *LedgerRepository) Credit(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return persistence.ErrInvalidAmount
	}

	tx, err := lr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin credit transaction: %w", err)
	}

	if err := adjustBalance(ctx, tx, userID, amount); err != nil {
		_ = tx.Rollback()

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credit: %w", err)
	}

	return nil
}

func adjustBalance(ctx context.Context, tx *sql.Tx, userID string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			balance = user_balances.balance + EXCLUDED.balance,
			updated_at = NOW()
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust balance for %s: %w", userID, err)
	}

	return nil
}

func (lr *LedgerRepository) LogUsage(ctx context.Context, usage *models.UsageLog) error {
	if usage.LoggedAt.IsZero() {
		usage.LoggedAt = time.Now().UTC()
	}

	_, err := lr.db.ExecContext(ctx, `
		INSERT INTO usage_logs (user_id, execution_id, provider, model, tokens, cost, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, usage.UserID, usage.ExecutionID, usage.Provider, usage.Model, usage.Tokens, usage.Cost, usage.LoggedAt)
	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}

	return nil
}

func (lr *LedgerRepository) EntriesByExecution(ctx context.Context, executionID string) ([]*models.TokenLedgerEntry, error) {
	rows, err := lr.db.QueryContext(ctx, `
		SELECT id, execution_id, user_id, engine_id, provider, model, kind, reason, tokens, cost, amount, debited_at
		FROM token_ledger WHERE execution_id = $1 ORDER BY debited_at ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			lr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	entries := make([]*models.TokenLedgerEntry, 0)

	for rows.Next() {
		var entry models.TokenLedgerEntry

		err := rows.Scan(
			&entry.ID,
			&entry.ExecutionID,
			&entry.UserID,
			&entry.EngineID,
			&entry.Provider,
			&entry.Model,
			&entry.Kind,
			&entry.Reason,
			&entry.Tokens,
			&entry.Cost,
			&entry.Amount,
			&entry.DebitedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

func (lr *LedgerRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64

	err := lr.db.QueryRowContext(ctx, "SELECT balance FROM user_balances WHERE user_id = $1", userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	return balance, nil
}
