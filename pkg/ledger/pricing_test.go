package ledger

import (
	"testing"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestPricingLookup(t *testing.T) {
	t.Parallel()

	pricing := DefaultPricing()

	tests := []struct {
		name     string
		provider string
		model    string
		input    float64
		found    bool
	}{
		{"exact", "openai", "gpt-4o", 2.50, true},
		{"versioned picks longest family", "openai", "gpt-4o-mini-2024-07-18", 0.15, true},
		{"provider wildcard", "anthropic", "claude-opus", 3.00, true},
		{"case insensitive", "OpenAI", "GPT-4.1", 2.00, true},
		{"unknown provider", "mistral", "large", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, found := pricing.Lookup(tt.provider, tt.model)

			assert.Equal(t, tt.found, found)
			assert.InDelta(t, tt.input, cost.InputCostPerMillion, 1e-9)
		})
	}
}

func TestModelCostCalculate(t *testing.T) {
	t.Parallel()

	cost := ModelCost{InputCostPerMillion: 2, OutputCostPerMillion: 10}

	assert.InDelta(t, 0.012, cost.Calculate(models.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000}), 1e-9)
	assert.InDelta(t, 6.0, cost.Calculate(models.TokenUsage{TotalTokens: 1_000_000}), 1e-9)
	assert.Zero(t, DefaultPricing().Cost("ollama", "llama3", models.TokenUsage{TotalTokens: 1000}))
}
