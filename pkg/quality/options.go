package quality

import "strings"

const (
	DefaultTargetWordCount     = 1000
	DefaultTolerance           = 0.2
	DefaultMinCitationsPer1000 = 2.0
)

// Options tune gate evaluation. Zero values fall back to defaults.
type Options struct {
	TargetWordCount     int                `json:"target_word_count"      yaml:"target_word_count"      validate:"gte=0"`
	Tolerance           float64            `json:"tolerance"              yaml:"tolerance"              validate:"gte=0,lt=1"`
	MinCitationsPer1000 float64            `json:"min_citations_per_1000" yaml:"min_citations_per_1000" validate:"gte=0"`
	Thresholds          map[string]float64 `json:"thresholds,omitempty"   yaml:"thresholds"             validate:"omitempty,dive,gte=0,lte=100"`
	StopOnFailure       bool               `json:"stop_on_failure"        yaml:"stop_on_failure"`
}

// Context describes the content being checked.
type Context struct {
	Title         string `json:"title,omitempty"`
	Genre         string `json:"genre,omitempty"`
	Audience      string `json:"audience,omitempty"`
	ChapterNumber int    `json:"chapter_number,omitempty"`
}

var audienceReadability = map[string]float64{
	"children":     80,
	"middle_grade": 70,
	"young_adult":  60,
	"general":      50,
	"technical":    35,
	"academic":     30,
}

func (o Options) targetWordCount() int {
	if o.TargetWordCount > 0 {
		return o.TargetWordCount
	}

	return DefaultTargetWordCount
}

func (o Options) tolerance() float64 {
	if o.Tolerance > 0 {
		return o.Tolerance
	}

	return DefaultTolerance
}

func (o Options) minCitations() float64 {
	if o.MinCitationsPer1000 > 0 {
		return o.MinCitationsPer1000
	}

	return DefaultMinCitationsPer1000
}

func (o Options) threshold(gate Gate, gctx Context) float64 {
	if threshold, ok := o.Thresholds[gate.Name()]; ok {
		return threshold
	}

	if gate.Name() == GateReadability {
		audience := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(gctx.Audience)), " ", "_")
		if threshold, ok := audienceReadability[audience]; ok {
			return threshold
		}
	}

	return gate.DefaultThreshold()
}
