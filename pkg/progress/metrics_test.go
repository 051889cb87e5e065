package progress

import (
	"encoding/json"
	"testing"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestRecomputeMetrics(t *testing.T) {
	t.Parallel()

	results := map[string]models.NodeResult{
		"outline": {"tokens": 100, "total_tokens": 150, "cost": 0.002},
		"chapter-1": {
			"usage":  map[string]any{"total_tokens": float64(400)},
			"words":  1200,
			"chapters": []any{
				map[string]any{"title": "One", "word_count": 700, "tokens": 200},
				map[string]any{"title": "Two", "word_count": 800, "tokens": 300},
			},
		},
		"noise": {"tokens": -5, "words": "not a number", "cost": json.Number("0.001")},
	}

	metrics := RecomputeMetrics(results)

	assert.Equal(t, int64(150+500), metrics.Tokens)
	assert.Equal(t, int64(1500), metrics.Words)
	assert.InDelta(t, 0.003, metrics.Cost, 1e-9)
	assert.Equal(t, 2, metrics.Chapters)
}

func TestRecomputeMetricsDeterministic(t *testing.T) {
	t.Parallel()

	results := map[string]models.NodeResult{
		"a": {"tokensUsed": 10, "wordsGenerated": 5},
		"b": {"tokens_used": 20, "totalWords": 7, "costIncurred": 0.5},
		"c": {"chapter_count": 3},
	}

	first := RecomputeMetrics(results)
	for range 20 {
		assert.Equal(t, first, RecomputeMetrics(results))
	}

	assert.Equal(t, models.Metrics{Tokens: 30, Words: 12, Cost: 0.5, Chapters: 3}, first)
}

func TestResultUsageEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, models.Metrics{}, ResultUsage(nil))
}
