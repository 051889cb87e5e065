package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/inkwell/pkg/coordinator"
	"github.com/dukex/inkwell/pkg/ledger"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "inkwell.yaml", `
coordinator:
  max_concurrent: 5
  stale_after: 10m
  sweep_schedule: "@every 1m"
pricing:
  openai/gpt-4o:
    input_cost_per_million: 5
    output_cost_per_million: 15
rate_limits:
  openai:
    per_second: 2
    burst: 4
artifacts:
  bucket: library
`)

	file, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Validate(file))

	cfg, err := file.CoordinatorConfig(coordinator.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxConcurrent)
	assert.Equal(t, 10*time.Minute, cfg.StaleAfter)
	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
	assert.Equal(t, coordinator.DefaultConfig().SweepParallelism, cfg.SweepParallelism)

	pricing := file.PricingTable()
	assert.Equal(t, ledger.ModelCost{InputCostPerMillion: 5, OutputCostPerMillion: 15}, pricing["openai/gpt-4o"])
	assert.Contains(t, pricing, "anthropic/*")

	assert.Equal(t, "openai=2:4", file.RateLimitSpec())
	assert.Equal(t, "library", file.Artifacts.Bucket)
}

func TestLoadOrDefault(t *testing.T) {
	file, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, File{}, file)

	file, err = LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, File{}, file)

	_, err = LoadOrDefault(writeFile(t, "broken.yaml", "coordinator: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]File{
		"negative capacity":   {Coordinator: CoordinatorFile{MaxConcurrent: -1}},
		"bad duration":        {Coordinator: CoordinatorFile{StaleAfter: "soon"}},
		"non positive stale":  {Coordinator: CoordinatorFile{StaleAfter: "0s"}},
		"negative price":      {Pricing: map[string]ledger.ModelCost{"openai/*": {InputCostPerMillion: -1}}},
		"zero rate":           {RateLimits: map[string]RateLimitFile{"openai": {PerSecond: 0}}},
		"negative rate burst": {RateLimits: map[string]RateLimitFile{"openai": {PerSecond: 1, Burst: -2}}},
	}

	for name, file := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate(file))
		})
	}

	assert.NoError(t, Validate(File{}))
}

func TestCoordinatorConfig_InvalidSchedule(t *testing.T) {
	file := File{Coordinator: CoordinatorFile{SweepSchedule: "sometimes"}}

	_, err := file.CoordinatorConfig(coordinator.DefaultConfig())
	assert.Error(t, err)
}

func TestLoadEngine(t *testing.T) {
	path := writeFile(t, "novel.yaml", `
id: novel
user_id: user-1
name: Short Novel
nodes:
  - id: outline
    name: Outline
    type: outline
    provider: openai
    model: gpt-4o
    config:
      chapters: 3
  - id: compile
    name: Compile
    type: compile
    position: 1
edges:
  - source: outline
    target: compile
`)

	engine, err := LoadEngine(path)
	require.NoError(t, err)

	assert.Equal(t, "novel", engine.ID)
	require.Len(t, engine.Nodes, 2)
	assert.Equal(t, models.NodeTypeOutline, engine.Nodes[0].Type)
	assert.Equal(t, 3, engine.Nodes[0].Config["chapters"])
	assert.Equal(t, []models.Edge{{Source: "outline", Target: "compile"}}, engine.Edges)

	jsonPath := writeFile(t, "novel.json", `{"id": "json-novel", "user_id": "u", "name": "Novel", "nodes": [{"id": "a", "name": "A", "type": "generate"}]}`)

	engine, err = LoadEngine(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "json-novel", engine.ID)

	_, err = LoadEngine(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
