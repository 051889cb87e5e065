// Package quality scores generated content with named gates and picks a
// retry strategy from the scores.
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/inkwell/pkg/metrics"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownGate = errors.New("unknown quality gate")
	ErrNoGates     = errors.New("no quality gates requested")
)

// Report aggregates a RunMany call.
type Report struct {
	Passed       bool                       `json:"passed"`
	AverageScore float64                    `json:"average_score"`
	PassRate     float64                    `json:"pass_rate"`
	Results      []models.QualityGateResult `json:"results"`
	Failed       []string                   `json:"failed,omitempty"`
	Stopped      bool                       `json:"stopped"`
	Summary      string                     `json:"summary"`
}

// Suggestions returns the de-duplicated suggestions of every failed gate.
func (r Report) Suggestions() []string {
	var out []string

	for _, result := range r.Results {
		if result.Passed {
			continue
		}

		for _, s := range result.Suggestions {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}

	return out
}

// Strategy selects the retry strategy for a failing report.
func (r Report) Strategy() Strategy {
	return SelectStrategy(r.AverageScore, r.Suggestions())
}

type Engine struct {
	mu       sync.RWMutex
	gates    map[string]Gate
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewEngine returns an engine with the built-in gates registered.
func NewEngine(logger *slog.Logger, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.NewNop()
	}

	e := &Engine{
		gates:    make(map[string]Gate),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		logger:   logger.With("module", "quality_gate_engine"),
	}

	for _, gate := range []Gate{WordCountGate{}, ReadabilityGate{}, CoherenceGate{}, CitationsGate{}, StyleConsistencyGate{}} {
		e.Register(gate)
	}

	return e
}

func (e *Engine) Register(gate Gate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gates[gate.Name()] = gate
}

// Gates lists registered gate names.
func (e *Engine) Gates() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return slices.Sorted(maps.Keys(e.gates))
}

func (e *Engine) gate(name string) (Gate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gate, ok := e.gates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGate, name)
	}

	return gate, nil
}

// Run evaluates one gate.
func (e *Engine) Run(ctx context.Context, name, content string, gctx Context, opts Options) (models.QualityGateResult, error) {
	if err := e.validate.Struct(opts); err != nil {
		return models.QualityGateResult{}, fmt.Errorf("invalid quality options: %w", err)
	}

	return e.run(ctx, name, content, gctx, opts)
}

func (e *Engine) run(ctx context.Context, name, content string, gctx Context, opts Options) (models.QualityGateResult, error) {
	gate, err := e.gate(name)
	if err != nil {
		return models.QualityGateResult{}, err
	}

	start := time.Now()

	result := gate.Evaluate(content, gctx, opts, opts.threshold(gate, gctx))
	result.Gate = name
	result.Duration = time.Since(start)

	e.metrics.GateScores.WithLabelValues(name).Observe(result.Score)
	e.logger.DebugContext(ctx, "Quality gate evaluated", "gate", name, "score", result.Score, "passed", result.Passed)

	return result, nil
}

// RunMany evaluates the gates in order. With StopOnFailure it halts at the
// first failing gate; the aggregate then covers only the gates that ran.
func (e *Engine) RunMany(ctx context.Context, names []string, content string, gctx Context, opts Options) (Report, error) {
	if len(names) == 0 {
		return Report{}, ErrNoGates
	}

	if err := e.validate.Struct(opts); err != nil {
		return Report{}, fmt.Errorf("invalid quality options: %w", err)
	}

	report := Report{Results: make([]models.QualityGateResult, 0, len(names))}

	for _, name := range names {
		result, err := e.run(ctx, name, content, gctx, opts)
		if err != nil {
			return Report{}, err
		}

		report.Results = append(report.Results, result)

		if !result.Passed {
			report.Failed = append(report.Failed, name)

			if opts.StopOnFailure {
				report.Stopped = true

				break
			}
		}
	}

	var total float64
	for _, result := range report.Results {
		total += result.Score
	}

	ran := len(report.Results)
	passed := ran - len(report.Failed)

	report.AverageScore = math.Round(total/float64(ran)*100) / 100
	report.PassRate = math.Round(float64(passed)/float64(ran)*10000) / 100
	report.Passed = len(report.Failed) == 0
	report.Summary = summarize(report, ran, passed)

	return report, nil
}

func summarize(report Report, ran, passed int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%d/%d gates passed, average score %.1f", passed, ran, report.AverageScore)

	if len(report.Failed) > 0 {
		fmt.Fprintf(&b, "; failed: %s", strings.Join(report.Failed, ", "))
	}

	if report.Stopped {
		b.WriteString("; stopped at first failure")
	}

	return b.String()
}
