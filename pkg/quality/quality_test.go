package quality

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/dukex/inkwell/pkg/metrics"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *metrics.Metrics) {
	t.Helper()

	m := metrics.New(prometheus.NewRegistry())

	return NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)), m), m
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("story ", n))
}

func TestWordCountGate_Tolerance(t *testing.T) {
	engine, _ := newTestEngine(t)
	opts := Options{TargetWordCount: 1000, Tolerance: 0.2}

	tests := []struct {
		count  int
		passed bool
	}{
		{count: 900, passed: true},
		{count: 800, passed: true},
		{count: 1200, passed: true},
		{count: 750, passed: false},
		{count: 1250, passed: false},
	}

	for _, tt := range tests {
		result, err := engine.Run(context.Background(), GateWordCount, words(tt.count), Context{}, opts)
		require.NoError(t, err)

		assert.Equal(t, tt.passed, result.Passed, "count %d", tt.count)
		assert.Equal(t, tt.count, result.Metrics["word_count"])
		assert.Equal(t, GateWordCount, result.Gate)
	}
}

func TestWordCountGate_Suggestions(t *testing.T) {
	result := WordCountGate{}.Evaluate(words(500), Context{}, Options{TargetWordCount: 1000}, 0)

	assert.False(t, result.Passed)
	assert.InDelta(t, 50.0, result.Score, 0.001)
	require.Len(t, result.Suggestions, 1)
	assert.Contains(t, result.Suggestions[0], "500 words")
}

func TestReadabilityGate(t *testing.T) {
	engine, _ := newTestEngine(t)

	simple := "The cat sat on the mat. The dog ran to the park. It was a fine day."

	result, err := engine.Run(context.Background(), GateReadability, simple, Context{}, Options{})
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 50.0, result.Threshold)

	result, err = engine.Run(context.Background(), GateReadability, simple, Context{Audience: "Children"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 80.0, result.Threshold)

	result, err = engine.Run(context.Background(), GateReadability, "", Context{}, Options{})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Zero(t, result.Score)
}

func TestCoherenceGate(t *testing.T) {
	linked := "She opened the door. However, the room was empty. Then she waited. Finally, he arrived."
	flat := "She opened the door. The room was empty. She waited. He arrived."

	good := CoherenceGate{}.Evaluate(linked, Context{}, Options{}, 60)
	bad := CoherenceGate{}.Evaluate(flat, Context{}, Options{}, 60)

	assert.True(t, good.Passed)
	assert.Equal(t, 100.0, good.Score)
	assert.False(t, bad.Passed)
	assert.Zero(t, bad.Score)
	assert.NotEmpty(t, bad.Suggestions)
}

func TestCitationsGate(t *testing.T) {
	cited := words(100) + " as shown in [1] and (Smith, 2020)."

	result := CitationsGate{}.Evaluate(cited, Context{}, Options{}, 70)
	assert.True(t, result.Passed)
	assert.Equal(t, 2, result.Metrics["citations"])

	result = CitationsGate{}.Evaluate(words(100), Context{}, Options{}, 70)
	assert.False(t, result.Passed)
}

func TestStyleConsistencyGate(t *testing.T) {
	even := "One two three four. Five six seven eight.\n\nNine ten eleven twelve. Thirteen fourteen fifteen sixteen."
	uneven := "Short.\n\n" + words(60) + "."

	assert.Equal(t, 100.0, StyleConsistencyGate{}.Evaluate(even, Context{}, Options{}, 60).Score)
	assert.False(t, StyleConsistencyGate{}.Evaluate(uneven, Context{}, Options{}, 60).Passed)

	single := StyleConsistencyGate{}.Evaluate("Just one paragraph.", Context{}, Options{}, 60)
	assert.True(t, single.Passed)
}

func TestRunMany_StopOnFailure(t *testing.T) {
	engine, _ := newTestEngine(t)

	report, err := engine.RunMany(context.Background(), []string{GateWordCount, GateReadability}, words(10)+".", Context{}, Options{StopOnFailure: true})
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.True(t, report.Stopped)
	assert.Len(t, report.Results, 1)
	assert.Equal(t, []string{GateWordCount}, report.Failed)
	assert.Contains(t, report.Summary, "stopped at first failure")
}

func TestRunMany_EvaluatesAll(t *testing.T) {
	engine, m := newTestEngine(t)

	report, err := engine.RunMany(context.Background(), []string{GateWordCount, GateStyleConsistency}, words(1000)+".", Context{}, Options{})
	require.NoError(t, err)

	assert.True(t, report.Passed)
	assert.False(t, report.Stopped)
	assert.Len(t, report.Results, 2)
	assert.Equal(t, 100.0, report.PassRate)
	assert.Equal(t, 100.0, report.AverageScore)
	assert.Equal(t, "2/2 gates passed, average score 100.0", report.Summary)
	assert.Equal(t, 2, testutil.CollectAndCount(m.GateScores))
}

func TestRunMany_Errors(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.RunMany(context.Background(), nil, "x", Context{}, Options{})
	assert.ErrorIs(t, err, ErrNoGates)

	_, err = engine.RunMany(context.Background(), []string{"vibes"}, "x", Context{}, Options{})
	assert.ErrorIs(t, err, ErrUnknownGate)

	_, err = engine.Run(context.Background(), GateWordCount, "x", Context{}, Options{Tolerance: 1.5})
	assert.Error(t, err)

	_, err = engine.Run(context.Background(), GateWordCount, "x", Context{}, Options{Thresholds: map[string]float64{"readability": 120}})
	assert.Error(t, err)
}

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		score float64
		kind  StrategyKind
	}{
		{score: 0, kind: StrategyRejectNoFallback},
		{score: 39.99, kind: StrategyRejectNoFallback},
		{score: 40, kind: StrategyRegenerate},
		{score: 69.99, kind: StrategyRegenerate},
		{score: 70, kind: StrategyRefine},
		{score: 100, kind: StrategyRefine},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, SelectStrategy(tt.score, nil).Kind, "score %.2f", tt.score)
	}
}

func TestStrategy_RejectHasNoPrompt(t *testing.T) {
	strategy := SelectStrategy(12, []string{"do better"})

	assert.True(t, orchestration.IsQualityGateFailure(strategy.Err()))

	prompt, err := strategy.Prompt("draft", Context{})
	assert.Empty(t, prompt)
	assert.ErrorIs(t, err, orchestration.ErrQualityGateFailure)
}

func TestStrategy_Prompt(t *testing.T) {
	regenerate := SelectStrategy(55, []string{"Add detail", "Use transitions"})

	prompt, err := regenerate.Prompt("old draft", Context{Title: "Dune", ChapterNumber: 2, Genre: "sci-fi"})
	require.NoError(t, err)

	assert.Contains(t, prompt, `Rewrite chapter 2 of "Dune" from scratch`)
	assert.Contains(t, prompt, "- Add detail\n- Use transitions\n")
	assert.Contains(t, prompt, "Genre: sci-fi.")
	assert.True(t, strings.HasSuffix(prompt, "old draft"))

	refine, err := SelectStrategy(80, nil).Prompt("text", Context{})
	require.NoError(t, err)
	assert.Contains(t, refine, "Revise the content in place")
}

func TestReport_Suggestions(t *testing.T) {
	report := Report{}
	report.Results = append(report.Results,
		resultWith(false, "a", "b"),
		resultWith(true, "ignored"),
		resultWith(false, "b", "c"),
	)

	assert.Equal(t, []string{"a", "b", "c"}, report.Suggestions())
}

func TestSyllables(t *testing.T) {
	assert.Equal(t, 1, syllables("cat"))
	assert.Equal(t, 2, syllables("table"))
	assert.Equal(t, 1, syllables("make"))
	assert.Equal(t, 0, syllables("..."))
}

func resultWith(passed bool, suggestions ...string) models.QualityGateResult {
	return models.QualityGateResult{Passed: passed, Suggestions: suggestions}
}
