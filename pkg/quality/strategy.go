package quality

import (
	"fmt"
	"strings"

	"github.com/dukex/inkwell/pkg/orchestration"
)

type StrategyKind string

const (
	// StrategyRejectNoFallback fails the content outright. No templated or
	// placeholder content may be substituted.
	StrategyRejectNoFallback StrategyKind = "reject_no_fallback"
	StrategyRegenerate       StrategyKind = "regenerate"
	StrategyRefine           StrategyKind = "refine"
)

// Score bands of the hybrid strategy.
const (
	RejectBelow = 40.0
	RefineFrom  = 70.0
)

type Strategy struct {
	Kind        StrategyKind `json:"kind"`
	Score       float64      `json:"score"`
	Suggestions []string     `json:"suggestions,omitempty"`
}

// SelectStrategy maps an average score onto the hybrid bands.
func SelectStrategy(averageScore float64, suggestions []string) Strategy {
	strategy := Strategy{Score: averageScore, Suggestions: suggestions}

	switch {
	case averageScore < RejectBelow:
		strategy.Kind = StrategyRejectNoFallback
	case averageScore < RefineFrom:
		strategy.Kind = StrategyRegenerate
	default:
		strategy.Kind = StrategyRefine
	}

	return strategy
}

// Err is non-nil for the reject variant.
func (s Strategy) Err() error {
	if s.Kind != StrategyRejectNoFallback {
		return nil
	}

	return fmt.Errorf("%w: average score %.1f is below %.0f", orchestration.ErrQualityGateFailure, s.Score, RejectBelow)
}

// Prompt builds the follow-up instruction for the strategy. The reject
// variant has no prompt.
func (s Strategy) Prompt(content string, gctx Context) (string, error) {
	if err := s.Err(); err != nil {
		return "", err
	}

	var b strings.Builder

	subject := "the content"
	if gctx.ChapterNumber > 0 {
		subject = fmt.Sprintf("chapter %d", gctx.ChapterNumber)
	}

	if gctx.Title != "" {
		subject += fmt.Sprintf(" of %q", gctx.Title)
	}

	switch s.Kind {
	case StrategyRegenerate:
		fmt.Fprintf(&b, "Rewrite %s from scratch. The previous draft scored %.1f out of 100.\n", subject, s.Score)
		b.WriteString("Address every point below:\n")
	case StrategyRefine:
		fmt.Fprintf(&b, "Revise %s in place, keeping its structure and voice. It scored %.1f out of 100.\n", subject, s.Score)
		b.WriteString("Apply these corrections:\n")
	}

	for _, suggestion := range s.Suggestions {
		fmt.Fprintf(&b, "- %s\n", suggestion)
	}

	if gctx.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s.\n", gctx.Genre)
	}

	if gctx.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s.\n", gctx.Audience)
	}

	if s.Kind == StrategyRefine {
		b.WriteString("\nContent:\n")
		b.WriteString(content)
	} else {
		b.WriteString("\nPrevious draft, for reference only:\n")
		b.WriteString(content)
	}

	return b.String(), nil
}
