package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const engineDocument = `
id: novel
user_id: user-1
name: Short Novel
nodes:
  - id: ch1
    name: Chapter One
    type: generate
    provider: openai
    model: gpt-4o
  - id: compile
    name: Compile
    type: compile
    position: 1
edges:
  - source: ch1
    target: compile
`

func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out

	base := []string{"inkwell", "--database-url", dataDir, "--config", filepath.Join(dataDir, "missing.yaml"), "--log-level", "error"}
	err := app.Run(context.Background(), append(base, args...))

	return out.String(), err
}

func TestEnginesImportAndValidate(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(t.TempDir(), "novel.yaml")
	require.NoError(t, os.WriteFile(doc, []byte(engineDocument), 0o600))

	out, err := run(t, dir, "engines", "import", "--file", doc, "--key", "ink_cli")
	require.NoError(t, err)
	assert.Contains(t, out, "engine novel imported for user user-1")
	assert.Contains(t, out, "key: ink_cli")

	engine, err := file.NewPersistence(dir).EngineRepository().GetByID(context.Background(), "novel")
	require.NoError(t, err)
	assert.NotEmpty(t, engine.APIKeyHash)
	assert.NotEqual(t, "ink_cli", engine.APIKeyHash)

	out, err = run(t, dir, "engines", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "all engines valid")
}

func TestEnginesImport_GeneratesKey(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(t.TempDir(), "novel.yaml")
	require.NoError(t, os.WriteFile(doc, []byte(engineDocument), 0o600))

	out, err := run(t, dir, "engines", "import", "--file", doc)
	require.NoError(t, err)
	assert.Regexp(t, `key: \S+`, out)
}

func TestCredits(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "credits", "grant", "--user", "user-1", "--amount", "500")
	require.NoError(t, err)
	assert.Contains(t, out, "user-1: 500 tokens")

	out, err = run(t, dir, "credits", "balance", "--user", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "user-1: 500 tokens")

	_, err = run(t, dir, "credits", "grant", "--user", "user-1", "--amount", "-3")
	assert.Error(t, err)
}

func TestSweep_FailsOrphans(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	abandonedAt := time.Now().Add(-time.Hour).UTC()

	executions := file.NewPersistence(dir).ExecutionRepository()
	require.NoError(t, executions.Create(ctx, &models.ExecutionRecord{
		ID:        "orphan-1",
		UserID:    "user-1",
		EngineID:  "novel",
		Status:    models.ExecutionStatusRunning,
		CreatedAt: abandonedAt,
		UpdatedAt: abandonedAt,
	}))

	out, err := run(t, dir, "sweep", "--stale-after", "30m")
	require.NoError(t, err)
	assert.Contains(t, out, "1 stale executions failed")

	record, err := executions.GetByID(ctx, "orphan-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
}
