package local

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/inkwell/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_Upload(t *testing.T) {
	root := t.TempDir()
	s := New("file://"+root, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, s.Upload(context.Background(), "books", "user-1/exec-1/title.md", []byte("# Title"), "text/markdown"))

	data, err := os.ReadFile(filepath.Join(root, "books", "user-1", "exec-1", "title.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Title", string(data))

	assert.Equal(t, "file://"+filepath.Join(root, "books", "user-1", "exec-1", "title.md"), s.PublicURL("books", "user-1/exec-1/title.md"))

	require.NoError(t, s.Upload(context.Background(), "books", "user-1/exec-1/title.md", []byte("# Second"), "text/markdown"))

	data, err = os.ReadFile(filepath.Join(root, "books", "user-1", "exec-1", "title.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Second", string(data))
}

func TestStorage_RejectsTraversal(t *testing.T) {
	s := New(t.TempDir(), "http://localhost:8080/files", slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := s.Upload(context.Background(), "books", "../escape.md", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)

	assert.Equal(t, "http://localhost:8080/files/books/a/b.md", s.PublicURL("books", "a/b.md"))
}
