// Package file provides file-based persistence for executions, engines,
// books and the token ledger.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/inkwell/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root       string
	executions *ExecutionRepository
	engines    *EngineRepository
	books      *BookRepository
	ledger     *LedgerRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) persistence.Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:       cleanRoot,
		executions: &ExecutionRepository{store: newStore(cleanRoot, "executions")},
		engines:    &EngineRepository{store: newStore(cleanRoot, "engines")},
		books:      &BookRepository{store: newStore(cleanRoot, "books")},
		ledger: &LedgerRepository{
			entries:  newStore(cleanRoot, filepath.Join("ledger", "entries")),
			balances: newStore(cleanRoot, filepath.Join("ledger", "balances")),
			usage:    newStore(cleanRoot, filepath.Join("ledger", "usage")),
		},
	}
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executions
}

func (fp *Persistence) EngineRepository() persistence.EngineRepository {
	return fp.engines
}

func (fp *Persistence) BookRepository() persistence.BookRepository {
	return fp.books
}

func (fp *Persistence) LedgerRepository() persistence.LedgerRepository {
	return fp.ledger
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// store is a directory of JSON documents, one per id. Its mutex makes
// read-modify-write sequences atomic within the process.
type store struct {
	mu  sync.Mutex
	dir string
}

func newStore(root, name string) *store {
	return &store{dir: filepath.Join(root, name)}
}

var errDocumentNotFound = errors.New("document not found")

// validateID validates that the id is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("id contains invalid characters")
	}

	return nil
}

func (s *store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *store) read(id string, out any) error {
	if err := validateID(id); err != nil {
		return err
	}

	data, err := os.ReadFile(s.path(id)) // #nosec G304 -- id is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return errDocumentNotFound
		}

		return fmt.Errorf("failed to read %s: %w", id, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}

	return nil
}

func (s *store) write(id string, doc any) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	if err := os.Rename(tmp, s.path(id)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", id, err)
	}

	return nil
}

// ids lists document ids in lexical order.
func (s *store) ids() ([]string, error) {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return []string{}, nil
	}

	files, err := fs.Glob(os.DirFS(s.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}
