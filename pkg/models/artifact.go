package models

import "time"

// Section is one chapter or part of a compiled book.
type Section struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
}

// BookContent is the canonical, storage-independent structure of a book.
type BookContent struct {
	Title         string            `json:"title"`
	Sections      []Section         `json:"sections"`
	TotalWords    int               `json:"total_words"`
	TotalChapters int               `json:"total_chapters"`
	Snapshots     map[string]string `json:"snapshots,omitempty"`
}

// BookArtifact is the result record upserted once per execution. The
// owning execution id lives in Metadata["execution_id"].
type BookArtifact struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Title      string            `json:"title"`
	FormatURLs map[string]string `json:"format_urls"`
	Content    BookContent       `json:"content"`
	Metadata   map[string]any    `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ExecutionID returns the idempotency key of the artifact.
func (b *BookArtifact) ExecutionID() string {
	id, _ := b.Metadata["execution_id"].(string)

	return id
}
