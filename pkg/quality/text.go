package quality

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	sentenceSplit  = regexp.MustCompile(`[.!?]+(\s+|$)`)
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
	markdownNoise  = regexp.MustCompile("(?m)^#{1,6}\\s+|[*_`>]")
)

// Words splits text into words, ignoring markdown markers.
func Words(text string) []string {
	return strings.Fields(markdownNoise.ReplaceAllString(text, " "))
}

func WordCount(text string) int {
	return len(Words(text))
}

func sentences(text string) []string {
	var out []string

	for _, s := range sentenceSplit.Split(text, -1) {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}

	return out
}

func paragraphs(text string) []string {
	var out []string

	for _, p := range paragraphSplit.Split(strings.TrimSpace(text), -1) {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}

	return out
}

// syllables approximates English syllables by counting vowel groups.
func syllables(word string) int {
	word = strings.ToLower(strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) }))
	if word == "" {
		return 0
	}

	count := 0
	prevVowel := false

	for _, r := range word {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			count++
		}

		prevVowel = vowel
	}

	if strings.HasSuffix(word, "e") && !strings.HasSuffix(word, "le") && count > 1 {
		count--
	}

	return max(count, 1)
}

func clamp(score float64) float64 {
	return min(100, max(0, score))
}
