package ledger

import (
	"strings"

	"github.com/dukex/inkwell/pkg/models"
)

// ModelCost is the price of a model in USD per million tokens.
type ModelCost struct {
	InputCostPerMillion  float64 `json:"input_cost_per_million"  yaml:"input_cost_per_million"`
	OutputCostPerMillion float64 `json:"output_cost_per_million" yaml:"output_cost_per_million"`
}

// CalculateInputCost calculates the cost for the given number of input tokens.
func (mc ModelCost) CalculateInputCost(tokens int64) float64 {
	return (float64(tokens) / 1_000_000.0) * mc.InputCostPerMillion
}

// CalculateOutputCost calculates the cost for the given number of output tokens.
func (mc ModelCost) CalculateOutputCost(tokens int64) float64 {
	return (float64(tokens) / 1_000_000.0) * mc.OutputCostPerMillion
}

// Calculate prices a usage report. Without a prompt/completion split the total
// is priced at the mean of the input and output rates.
func (mc ModelCost) Calculate(usage models.TokenUsage) float64 {
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		return (float64(usage.TotalTokens) / 1_000_000.0) * (mc.InputCostPerMillion + mc.OutputCostPerMillion) / 2
	}

	return mc.CalculateInputCost(usage.PromptTokens) + mc.CalculateOutputCost(usage.CompletionTokens)
}

// Pricing maps "provider/model" to a cost. A "provider/*" key prices every
// model of that provider.
type Pricing map[string]ModelCost

// DefaultPricing is the built-in price list.
func DefaultPricing() Pricing {
	return Pricing{
		"openai/gpt-4o":               {InputCostPerMillion: 2.50, OutputCostPerMillion: 10.00},
		"openai/gpt-4o-mini":          {InputCostPerMillion: 0.15, OutputCostPerMillion: 0.60},
		"openai/gpt-4.1":              {InputCostPerMillion: 2.00, OutputCostPerMillion: 8.00},
		"openai/*":                    {InputCostPerMillion: 2.50, OutputCostPerMillion: 10.00},
		"anthropic/claude-3-5-sonnet": {InputCostPerMillion: 3.00, OutputCostPerMillion: 15.00},
		"anthropic/claude-3-5-haiku":  {InputCostPerMillion: 0.80, OutputCostPerMillion: 4.00},
		"anthropic/*":                 {InputCostPerMillion: 3.00, OutputCostPerMillion: 15.00},
		"ollama/*":                    {},
	}
}

// Lookup finds the most specific price for provider and model.
func (p Pricing) Lookup(provider, model string) (ModelCost, bool) {
	provider = strings.ToLower(provider)
	model = strings.ToLower(model)

	if cost, ok := p[provider+"/"+model]; ok {
		return cost, true
	}

	// Versioned model names fall back to their family, e.g. gpt-4o-2024-08-06.
	best, bestLen, found := ModelCost{}, 0, false

	for key, cost := range p {
		prefix, ok := strings.CutPrefix(key, provider+"/")
		if !ok || prefix == "*" {
			continue
		}

		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen, found = cost, len(prefix), true
		}
	}

	if found {
		return best, true
	}

	cost, ok := p[provider+"/*"]

	return cost, ok
}

// Cost prices usage; unknown models cost nothing.
func (p Pricing) Cost(provider, model string, usage models.TokenUsage) float64 {
	cost, ok := p.Lookup(provider, model)
	if !ok {
		return 0
	}

	return cost.Calculate(usage)
}
