package progress

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/dukex/inkwell/pkg/models"
)

var (
	tokenAliases   = []string{"tokens", "tokensUsed", "tokens_used", "totalTokens", "total_tokens", "usage.total_tokens", "usage.totalTokens"}
	wordAliases    = []string{"words", "wordCount", "word_count", "wordsGenerated", "words_generated", "totalWords", "total_words"}
	costAliases    = []string{"cost", "costIncurred", "cost_incurred", "cost_usd", "totalCost", "total_cost"}
	chapterAliases = []string{"chapterCount", "chapter_count", "totalChapters", "total_chapters"}
	chapterLists   = []string{"chapters", "chapterList", "chapter_list"}
)

// RecomputeMetrics derives the aggregate metrics from node results only. It
// never accumulates, so replaying updates cannot drift the totals.
func RecomputeMetrics(results map[string]models.NodeResult) models.Metrics {
	var metrics models.Metrics

	for _, result := range results {
		usage := ResultUsage(result)

		metrics.Tokens += usage.Tokens
		metrics.Words += usage.Words
		metrics.Cost += usage.Cost

		if usage.Chapters > metrics.Chapters {
			metrics.Chapters = usage.Chapters
		}
	}

	metrics.Cost = roundCost(metrics.Cost)

	return metrics
}

// ResultUsage reads the metric fields of a single node result. For each
// metric the largest alias wins, and a chapter list contributes the sum of
// its entries when that sum is larger.
func ResultUsage(result models.NodeResult) models.Metrics {
	usage := models.Metrics{
		Tokens:   int64(maxAlias(result, tokenAliases)),
		Words:    int64(maxAlias(result, wordAliases)),
		Cost:     maxAlias(result, costAliases),
		Chapters: int(maxAlias(result, chapterAliases)),
	}

	chapters := chapterList(result)
	if len(chapters) == 0 {
		return usage
	}

	var sum models.Metrics

	for _, chapter := range chapters {
		sum.Tokens += int64(maxAlias(chapter, tokenAliases))
		sum.Words += int64(maxAlias(chapter, wordAliases))
		sum.Cost += maxAlias(chapter, costAliases)
	}

	usage.Tokens = max(usage.Tokens, sum.Tokens)
	usage.Words = max(usage.Words, sum.Words)
	usage.Cost = math.Max(usage.Cost, sum.Cost)
	usage.Chapters = max(usage.Chapters, len(chapters))

	return usage
}

func chapterList(result map[string]any) []map[string]any {
	for _, key := range chapterLists {
		raw, ok := result[key].([]any)
		if !ok {
			continue
		}

		chapters := make([]map[string]any, 0, len(raw))

		for _, item := range raw {
			if chapter, ok := asMap(item); ok {
				chapters = append(chapters, chapter)
			}
		}

		return chapters
	}

	return nil
}

func maxAlias(m map[string]any, aliases []string) float64 {
	best := 0.0

	for _, alias := range aliases {
		if v, ok := lookup(m, alias); ok && v > best {
			best = v
		}
	}

	return best
}

func lookup(m map[string]any, path string) (float64, bool) {
	var current any = m

	for _, part := range strings.Split(path, ".") {
		node, ok := asMap(current)
		if !ok {
			return 0, false
		}

		current, ok = node[part]
		if !ok {
			return 0, false
		}
	}

	return toNumber(current)
}

func toNumber(v any) (float64, bool) {
	var f float64

	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}

		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}

		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}

	return f, true
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}

	return v
}

func roundCost(c float64) float64 {
	return math.Round(c*1e6) / 1e6
}
