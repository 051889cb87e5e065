package models

import "time"

// LedgerEntryKind tells a settlement apart from later regeneration charges.
type LedgerEntryKind string

const (
	LedgerEntrySettlement   LedgerEntryKind = "settlement"
	LedgerEntryRegeneration LedgerEntryKind = "regeneration"
)

// TokenLedgerEntry is one debit recorded against a user's balance.
type TokenLedgerEntry struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	UserID      string          `json:"user_id"`
	EngineID    string          `json:"engine_id,omitempty"`
	Provider    string          `json:"provider,omitempty"`
	Model       string          `json:"model,omitempty"`
	Kind        LedgerEntryKind `json:"kind"`
	Reason      string          `json:"reason"`
	Tokens      int64           `json:"tokens"`
	Cost        float64         `json:"cost"`
	Amount      int64           `json:"amount"`
	DebitedAt   time.Time       `json:"debited_at"`
}

// UsageLog is a non-billing trace of a provider call.
type UsageLog struct {
	UserID      string    `json:"user_id"`
	ExecutionID string    `json:"execution_id"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Tokens      int64     `json:"tokens"`
	Cost        float64   `json:"cost"`
	LoggedAt    time.Time `json:"logged_at"`
}
