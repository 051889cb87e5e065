// Package local stores artifacts on the local filesystem for development.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/inkwell/pkg/storage"
)

type Storage struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// New stores objects under root/<bucket>/<key>. Public URLs are baseURL
// joined with bucket and key, or file:// paths when baseURL is empty.
func New(root, baseURL string, logger *slog.Logger) *Storage {
	return &Storage{
		root:    strings.TrimPrefix(root, "file://"),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("module", "local_storage"),
	}
}

func (s *Storage) Upload(ctx context.Context, bucket, key string, data []byte, _ string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	if err := storage.ValidateKey(bucket); err != nil {
		return err
	}

	path := s.path(bucket, key)

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", key, err)
	}

	s.logger.DebugContext(ctx, "Stored object", "bucket", bucket, "key", key, "bytes", len(data))

	return nil
}

func (s *Storage) PublicURL(bucket, key string) string {
	if s.baseURL == "" {
		return "file://" + s.path(bucket, key)
	}

	return s.baseURL + "/" + bucket + "/" + key
}

func (s *Storage) path(bucket, key string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(key))
}
