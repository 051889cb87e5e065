package artifact

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/inkwell/pkg/mocks"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
	"github.com/dukex/inkwell/pkg/persistence/file"
	"github.com/dukex/inkwell/pkg/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPersister_IdempotentByExecution(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	objects := local.New(t.TempDir(), "https://cdn.example.com", discardLogger())
	persister := NewPersister(objects, store.BookRepository(), "books", discardLogger())

	first, err := persister.Persist(ctx, Request{
		ExecutionID: "exec-1",
		UserID:      "user-1",
		Title:       "My Book",
		Formats:     map[string]any{"markdown": "# My Book"},
		Content: models.BookContent{Sections: []models.Section{
			{Title: "One", Content: "a b c", WordCount: 3},
			{Title: "Two", Content: "d e", WordCount: 2},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"markdown": "https://cdn.example.com/books/user-1/exec-1/my-book.md"}, first.FormatURLs)
	assert.Equal(t, 5, first.Book.Content.TotalWords)
	assert.Equal(t, 2, first.Book.Content.TotalChapters)

	second, err := persister.Persist(ctx, Request{
		ExecutionID: "exec-1",
		UserID:      "user-1",
		Title:       "My Book",
		Formats: map[string]any{
			"markdown": "# My Book v2",
			"html":     "<h1>My Book</h1><p>Hello <strong>world</strong></p>",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, first.Book.ID, second.Book.ID)
	assert.Equal(t, []string{"html", "markdown"}, second.OutputFormats)

	book, err := store.BookRepository().GetByExecution(ctx, "exec-1")
	require.NoError(t, err)

	assert.Len(t, book.FormatURLs, 2)
	assert.Equal(t, "https://cdn.example.com/books/user-1/exec-1/my-book.html", book.FormatURLs["html"])
	assert.Equal(t, "# My Book v2", book.Content.Snapshots["markdown"])
	assert.Contains(t, book.Content.Snapshots["html"], "**world**")
	assert.Equal(t, "exec-1", book.ExecutionID())
}

func TestPersister_AliasedFormatsGetDistinctKeys(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	objects := local.New(t.TempDir(), "https://cdn.example.com", discardLogger())
	persister := NewPersister(objects, store.BookRepository(), "books", discardLogger())

	result, err := persister.Persist(context.Background(), Request{
		ExecutionID: "exec-1",
		UserID:      "user-1",
		Title:       "My Book",
		Formats: map[string]any{
			"markdown": "# My Book",
			"md":       "# My Book (md)",
			"text":     "My Book (text)",
			"txt":      "My Book",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"markdown": "https://cdn.example.com/books/user-1/exec-1/my-book.md",
		"md":       "https://cdn.example.com/books/user-1/exec-1/my-book-md.md",
		"text":     "https://cdn.example.com/books/user-1/exec-1/my-book.txt",
		"txt":      "https://cdn.example.com/books/user-1/exec-1/my-book-txt.txt",
	}, result.FormatURLs)
}

func TestPersister_SkipsUnnormalizableFormats(t *testing.T) {
	objects := &mocks.MockObjectStorage{}
	objects.On("Upload", mock.Anything, "books", "user-1/exec-1/dune.txt", []byte("spice"), "text/plain; charset=utf-8").Return(nil).Once()
	objects.On("PublicURL", "books", "user-1/exec-1/dune.txt").Return("https://x/dune.txt")

	books := &mocks.MockBookRepository{}
	books.On("UpsertByExecution", mock.Anything, mock.MatchedBy(func(b *models.BookArtifact) bool {
		return b.ExecutionID() == "exec-1" && len(b.FormatURLs) == 1
	})).Return(&models.BookArtifact{ID: "book-1"}, nil).Once()

	persister := NewPersister(objects, books, "books", discardLogger())

	result, err := persister.Persist(context.Background(), Request{
		ExecutionID: "exec-1",
		UserID:      "user-1",
		Content:     models.BookContent{Title: "Dune"},
		Formats: map[string]any{
			"txt": "spice",
			"pdf": 42,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"txt"}, result.OutputFormats)
	objects.AssertExpectations(t)
	books.AssertExpectations(t)
}

func TestPersister_UploadFailureAborts(t *testing.T) {
	objects := &mocks.MockObjectStorage{}
	objects.On("Upload", mock.Anything, "books", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket gone")).Once()

	books := &mocks.MockBookRepository{}
	persister := NewPersister(objects, books, "books", discardLogger())

	_, err := persister.Persist(context.Background(), Request{
		ExecutionID: "exec-1",
		UserID:      "user-1",
		Formats: map[string]any{
			"html":     "<p>a</p>",
			"markdown": "a",
		},
	})
	require.Error(t, err)

	assert.True(t, orchestration.IsPersistenceFailure(err))
	objects.AssertNumberOfCalls(t, "Upload", 1)
	books.AssertNotCalled(t, "UpsertByExecution", mock.Anything, mock.Anything)
}

func TestPersister_AllUploadsFailed(t *testing.T) {
	objects := &mocks.MockObjectStorage{}
	books := &mocks.MockBookRepository{}
	persister := NewPersister(objects, books, "books", discardLogger())

	_, err := persister.Persist(context.Background(), Request{
		ExecutionID: "exec-1",
		UserID:      "user-1",
		Formats:     map[string]any{"pdf": nil},
	})

	assert.ErrorIs(t, err, ErrAllUploadsFailed)
	assert.True(t, orchestration.IsPersistenceFailure(err))
	objects.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPersister_UpsertFailure(t *testing.T) {
	objects := &mocks.MockObjectStorage{}
	objects.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	objects.On("PublicURL", mock.Anything, mock.Anything).Return("https://x")

	books := &mocks.MockBookRepository{}
	books.On("UpsertByExecution", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	persister := NewPersister(objects, books, "books", discardLogger())

	_, err := persister.Persist(context.Background(), Request{
		ExecutionID: "exec-1",
		UserID:      "user-1",
		Formats:     map[string]any{"markdown": "text"},
	})

	assert.True(t, orchestration.IsPersistenceFailure(err))
}
