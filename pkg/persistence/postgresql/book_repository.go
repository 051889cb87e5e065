package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/google/uuid"
)

// BookRepository upserts book artifacts keyed by metadata->>'execution_id'.
type BookRepository struct {
	db *sql.DB
}

func NewBookRepository(db *sql.DB) *BookRepository {
	return &BookRepository{db: db}
}

func (br *BookRepository) UpsertByExecution(ctx context.Context, book *models.BookArtifact) (*models.BookArtifact, error) {
	executionID := book.ExecutionID()
	if executionID == "" {
		return nil, errors.New("book metadata must carry execution_id")
	}

	formatURLsJSON, err := json.Marshal(book.FormatURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal format urls: %w", err)
	}

	contentJSON, err := json.Marshal(book.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}

	metadataJSON, err := json.Marshal(book.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	id := book.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO book_results (id, user_id, title, format_urls, content, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT ((metadata->>'execution_id')) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			title = EXCLUDED.title,
			format_urls = EXCLUDED.format_urls,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`

	stored := *book

	err = br.db.QueryRowContext(ctx, query,
		id, book.UserID, book.Title, formatURLsJSON, contentJSON, metadataJSON, now,
	).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert book for execution %s: %w", executionID, err)
	}

	return &stored, nil
}

func (br *BookRepository) GetByExecution(ctx context.Context, executionID string) (*models.BookArtifact, error) {
	var (
		book                                      models.BookArtifact
		formatURLsJSON, contentJSON, metadataJSON []byte
	)

	err := br.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, format_urls, content, metadata, created_at, updated_at
		FROM book_results WHERE metadata->>'execution_id' = $1
	`, executionID).Scan(
		&book.ID, &book.UserID, &book.Title, &formatURLsJSON, &contentJSON, &metadataJSON, &book.CreatedAt, &book.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetBook", executionID, persistence.ErrBookNotFound)
		}

		return nil, fmt.Errorf("failed to scan book: %w", err)
	}

	if err := json.Unmarshal(formatURLsJSON, &book.FormatURLs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal format urls: %w", err)
	}

	if err := json.Unmarshal(contentJSON, &book.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal content: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &book.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &book, nil
}
