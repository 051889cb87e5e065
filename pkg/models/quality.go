package models

import "time"

// QualityGateResult is the outcome of one named content check.
type QualityGateResult struct {
	Gate        string         `json:"gate"`
	Passed      bool           `json:"passed"`
	Score       float64        `json:"score"`
	Threshold   float64        `json:"threshold"`
	Feedback    string         `json:"feedback"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Metrics     map[string]any `json:"metrics,omitempty"`
	Duration    time.Duration  `json:"duration"`
}
