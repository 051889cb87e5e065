package quality

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/dukex/inkwell/pkg/models"
)

// Gate names.
const (
	GateWordCount        = "word_count"
	GateReadability      = "readability"
	GateCoherence        = "coherence"
	GateCitations        = "citations"
	GateStyleConsistency = "style_consistency"
)

// Gate is a pure scoring function over text. Threshold is the threshold the
// engine resolved for this run.
type Gate interface {
	Name() string
	DefaultThreshold() float64
	Evaluate(content string, gctx Context, opts Options, threshold float64) models.QualityGateResult
}

func scored(score, threshold float64) models.QualityGateResult {
	score = math.Round(clamp(score)*100) / 100

	return models.QualityGateResult{Score: score, Threshold: threshold, Passed: score >= threshold}
}

// WordCountGate passes when the count falls within target × (1 ± tolerance).
// The score only reports distance from the target.
type WordCountGate struct{}

func (WordCountGate) Name() string {
	return GateWordCount
}

func (WordCountGate) DefaultThreshold() float64 {
	return 0
}

func (WordCountGate) Evaluate(content string, _ Context, opts Options, threshold float64) models.QualityGateResult {
	count := WordCount(content)
	target := opts.targetWordCount()
	tolerance := opts.tolerance()

	low := float64(target) * (1 - tolerance)
	high := float64(target) * (1 + tolerance)

	result := models.QualityGateResult{
		Score:     math.Round(clamp(100*(1-math.Abs(float64(count-target))/float64(target)))*100) / 100,
		Threshold: threshold,
		Passed:    float64(count) >= low && float64(count) <= high,
		Metrics: map[string]any{
			"word_count": count,
			"target":     target,
			"min":        int(math.Ceil(low)),
			"max":        int(math.Floor(high)),
		},
	}

	switch {
	case result.Passed:
		result.Feedback = fmt.Sprintf("%d words is within the %d-%d range", count, int(math.Ceil(low)), int(math.Floor(high)))
	case float64(count) < low:
		result.Feedback = fmt.Sprintf("%d words is below the minimum of %d", count, int(math.Ceil(low)))
		result.Suggestions = []string{fmt.Sprintf("Expand the content by about %d words with scenes, detail or dialogue", target-count)}
	default:
		result.Feedback = fmt.Sprintf("%d words exceeds the maximum of %d", count, int(math.Floor(high)))
		result.Suggestions = []string{fmt.Sprintf("Tighten the content by about %d words", count-target)}
	}

	return result
}

// ReadabilityGate scores Flesch reading ease. The default threshold depends
// on the audience.
type ReadabilityGate struct{}

func (ReadabilityGate) Name() string {
	return GateReadability
}

func (ReadabilityGate) DefaultThreshold() float64 {
	return 50
}

func (ReadabilityGate) Evaluate(content string, _ Context, _ Options, threshold float64) models.QualityGateResult {
	words := Words(content)
	sentenceCount := len(sentences(content))

	if len(words) == 0 || sentenceCount == 0 {
		result := scored(0, threshold)
		result.Feedback = "no readable text"

		return result
	}

	syllableCount := 0
	for _, w := range words {
		syllableCount += syllables(w)
	}

	wordsPerSentence := float64(len(words)) / float64(sentenceCount)
	syllablesPerWord := float64(syllableCount) / float64(len(words))
	ease := 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord

	result := scored(ease, threshold)
	result.Metrics = map[string]any{
		"flesch_reading_ease": math.Round(ease*100) / 100,
		"words_per_sentence":  math.Round(wordsPerSentence*100) / 100,
		"syllables_per_word":  math.Round(syllablesPerWord*100) / 100,
	}
	result.Feedback = fmt.Sprintf("Flesch reading ease %.1f", ease)

	if !result.Passed {
		if wordsPerSentence > 20 {
			result.Suggestions = append(result.Suggestions, "Break long sentences into shorter ones")
		}

		if syllablesPerWord > 1.6 {
			result.Suggestions = append(result.Suggestions, "Prefer shorter, more common words")
		}
	}

	return result
}

var transitions = []string{
	"however", "therefore", "meanwhile", "moreover", "furthermore", "consequently",
	"nevertheless", "then", "later", "afterwards", "finally", "first", "next",
	"because", "although", "instead", "still", "suddenly", "eventually", "thus",
	"in addition", "as a result", "for example", "on the other hand", "at last",
	"in the end", "even so", "soon", "after that", "before",
}

// CoherenceGate approximates flow through transition-word density per
// sentence. A density of 0.25 or more scores 100.
type CoherenceGate struct{}

func (CoherenceGate) Name() string {
	return GateCoherence
}

func (CoherenceGate) DefaultThreshold() float64 {
	return 60
}

func (CoherenceGate) Evaluate(content string, _ Context, _ Options, threshold float64) models.QualityGateResult {
	sentenceList := sentences(content)
	if len(sentenceList) == 0 {
		result := scored(0, threshold)
		result.Feedback = "no sentences to evaluate"

		return result
	}

	found := 0

	for _, sentence := range sentenceList {
		lower := " " + strings.ToLower(strings.Join(strings.Fields(sentence), " ")) + " "

		for _, t := range transitions {
			if strings.Contains(lower, " "+t+" ") || strings.Contains(lower, " "+t+",") {
				found++

				break
			}
		}
	}

	density := float64(found) / float64(len(sentenceList))

	result := scored(density/0.25*100, threshold)
	result.Metrics = map[string]any{
		"sentences":          len(sentenceList),
		"linked_sentences":   found,
		"transition_density": math.Round(density*1000) / 1000,
		"paragraphs":         len(paragraphs(content)),
	}
	result.Feedback = fmt.Sprintf("%d of %d sentences use a transition", found, len(sentenceList))

	if !result.Passed {
		result.Suggestions = []string{"Connect ideas and scenes with clearer transitions"}
	}

	return result
}

var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[\d+(?:[,–-]\s*\d+)*\]`),
	regexp.MustCompile(`\([A-Z][A-Za-z'-]+(?: et al\.)?,? \d{4}[a-z]?\)`),
	regexp.MustCompile(`https?://\S+`),
	regexp.MustCompile(`\[\^[^\]]+\]`),
}

// CitationsGate scores reference density per thousand words against
// Options.MinCitationsPer1000.
type CitationsGate struct{}

func (CitationsGate) Name() string {
	return GateCitations
}

func (CitationsGate) DefaultThreshold() float64 {
	return 70
}

func (CitationsGate) Evaluate(content string, _ Context, opts Options, threshold float64) models.QualityGateResult {
	words := WordCount(content)
	required := opts.minCitations()

	count := 0
	for _, pattern := range citationPatterns {
		count += len(pattern.FindAllStringIndex(content, -1))
	}

	density := 0.0
	if words > 0 {
		density = float64(count) / float64(words) * 1000
	}

	result := scored(density/required*100, threshold)
	result.Metrics = map[string]any{
		"citations":         count,
		"per_1000_words":    math.Round(density*100) / 100,
		"required_per_1000": required,
	}
	result.Feedback = fmt.Sprintf("%d citations (%.2f per 1000 words)", count, density)

	if !result.Passed {
		result.Suggestions = []string{"Support factual claims with references or footnotes"}
	}

	return result
}

// StyleConsistencyGate scores the variance of mean sentence length across
// paragraphs. A coefficient of variation of 0 scores 100.
type StyleConsistencyGate struct{}

func (StyleConsistencyGate) Name() string {
	return GateStyleConsistency
}

func (StyleConsistencyGate) DefaultThreshold() float64 {
	return 60
}

func (StyleConsistencyGate) Evaluate(content string, _ Context, _ Options, threshold float64) models.QualityGateResult {
	var means []float64

	for _, p := range paragraphs(content) {
		if n := len(sentences(p)); n > 0 {
			means = append(means, float64(WordCount(p))/float64(n))
		}
	}

	if len(means) < 2 {
		result := scored(100, threshold)
		result.Feedback = "not enough paragraphs to compare"
		result.Metrics = map[string]any{"paragraphs": len(means)}

		return result
	}

	var sum float64
	for _, m := range means {
		sum += m
	}

	mean := sum / float64(len(means))

	var variance float64
	for _, m := range means {
		variance += (m - mean) * (m - mean)
	}

	cv := math.Sqrt(variance/float64(len(means))) / mean

	result := scored(100*(1-cv), threshold)
	result.Metrics = map[string]any{
		"paragraphs":               len(means),
		"mean_sentence_length":     math.Round(mean*100) / 100,
		"coefficient_of_variation": math.Round(cv*1000) / 1000,
	}
	result.Feedback = fmt.Sprintf("sentence length varies by %.0f%% across paragraphs", cv*100)

	if !result.Passed {
		result.Suggestions = []string{"Keep sentence rhythm and voice consistent across paragraphs"}
	}

	return result
}
