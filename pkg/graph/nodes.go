package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
	"github.com/dukex/inkwell/pkg/providers"
	"github.com/dukex/inkwell/pkg/quality"
	"github.com/dukex/inkwell/pkg/template"
	"github.com/kaptinlin/jsonrepair"
)

const (
	defaultSystemPrompt  = "You are a skilled author writing long-form books. Write polished prose only, without commentary."
	defaultOutlineSystem = "You are a book planner. Reply with JSON only."
)

const defaultGeneratePrompt = `Write the section "{{ .node.name }}".{{ if .previous }}

Continue from:
{{ .previous }}{{ end }}`

const defaultOutlinePrompt = `Plan a book about {{ default "a subject of your choice" .inputs.topic }}. ` +
	`Reply with JSON: {"title": string, "chapters": [{"title": string, "summary": string}]}.`

// QualityError reports content that never passed its inline gates.
type QualityError struct {
	NodeID   string
	Attempts int
	Report   quality.Report
	Strategy quality.Strategy
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("content rejected after %d attempts: %s", e.Attempts, e.Report.Summary)
}

func (e *QualityError) Is(target error) bool {
	return target == orchestration.ErrQualityGateFailure
}

// Detail is the shape stored under lastValidationError.
func (e *QualityError) Detail() map[string]any {
	return map[string]any{
		"summary":       e.Report.Summary,
		"average_score": e.Report.AverageScore,
		"failed":        stringsToAny(e.Report.Failed),
		"suggestions":   stringsToAny(e.Report.Suggestions()),
		"strategy":      string(e.Strategy.Kind),
		"attempts":      e.Attempts,
	}
}

type call struct {
	node     models.Node
	config   map[string]any
	messages []providers.Message
	opts     providers.Options
}

func (e *Engine) prepare(r *run, node models.Node, systemDefault, promptDefault string) (call, error) {
	data := r.templateData(node)

	config, err := template.RenderConfig(node.Config, data)
	if err != nil {
		return call{}, err
	}

	promptTemplate := node.Prompt
	if promptTemplate == "" {
		promptTemplate = promptDefault
	}

	prompt, err := template.Render(promptTemplate, data)
	if err != nil {
		return call{}, err
	}

	if node.ID == r.target && r.validationError != "" {
		prompt += fmt.Sprintf("\n\nThe previous attempt was rejected: %s\nAddress this in the new version.", r.validationError)
	}

	return call{
		node:   node,
		config: config,
		messages: []providers.Message{
			{Role: providers.RoleSystem, Content: stringOr(config, "system", systemDefault)},
			{Role: providers.RoleUser, Content: prompt},
		},
		opts: providers.Options{
			Temperature: float32Ptr(config, "temperature"),
			MaxTokens:   intOf(config, "max_tokens"),
		},
	}, nil
}

// invoke makes one provider call and books it on out.
func (e *Engine) invoke(ctx context.Context, c call, messages []providers.Message, out *nodeOutput) (string, error) {
	if e.generator == nil {
		return "", fmt.Errorf("%w: no generator configured", orchestration.ErrProviderError)
	}

	resp, err := e.generator.Generate(ctx, c.node.Provider, c.node.Model, messages, c.opts)
	if err != nil {
		return "", err
	}

	cost := e.pricing.Cost(resp.Provider, resp.Model, resp.Usage)

	out.usage.PromptTokens += resp.Usage.PromptTokens
	out.usage.CompletionTokens += resp.Usage.CompletionTokens
	out.usage.TotalTokens += resp.Usage.TotalTokens
	out.cost += cost
	out.provider = resp.Provider
	out.model = resp.Model
	out.calls = append(out.calls, models.UsageRecord{
		NodeID:   c.node.ID,
		Provider: resp.Provider,
		Model:    resp.Model,
		Tokens:   resp.Usage.TotalTokens,
		Cost:     cost,
	})

	return resp.Content, nil
}

func (e *Engine) generate(ctx context.Context, r *run, node models.Node) (nodeOutput, error) {
	var out nodeOutput

	c, err := e.prepare(r, node, defaultSystemPrompt, defaultGeneratePrompt)
	if err != nil {
		return out, err
	}

	content, err := e.invoke(ctx, c, c.messages, &out)
	if err != nil {
		return out, err
	}

	title := stringOr(c.config, "title", node.Name)
	attempts := 1
	score := 0.0

	if gates := stringsOf(c.config, "quality_gates"); len(gates) > 0 && e.checker != nil {
		content, attempts, score, err = e.enforceQuality(ctx, r, c, gates, title, content, &out)
		if err != nil {
			return out, err
		}
	}

	out.words = int64(quality.WordCount(content))
	out.output = map[string]any{
		"content":  content,
		"title":    title,
		"words":    out.words,
		"tokens":   out.usage.TotalTokens,
		"cost":     out.cost,
		"attempts": attempts,
	}

	if score > 0 {
		out.output["quality_score"] = score
	}

	return out, nil
}

// enforceQuality re-prompts with the hybrid strategy until the gates pass,
// the strategy rejects the content, or the retry budget runs out.
func (e *Engine) enforceQuality(ctx context.Context, r *run, c call, gates []string, title, content string, out *nodeOutput) (string, int, float64, error) {
	opts := quality.Options{
		TargetWordCount: intOf(c.config, "target_word_count"),
		Tolerance:       floatOf(c.config, "tolerance"),
		StopOnFailure:   boolOf(c.config, "stop_on_failure"),
	}
	gctx := quality.Context{
		Title:         title,
		Genre:         stringOr(r.inputs, "genre", ""),
		Audience:      stringOr(r.inputs, "audience", ""),
		ChapterNumber: intOf(c.config, "chapter_number"),
	}

	maxRetries := e.maxRetries
	if _, ok := c.config["max_retries"]; ok {
		maxRetries = intOf(c.config, "max_retries")
	}

	for attempt := 1; ; attempt++ {
		report, err := e.checker.RunMany(ctx, gates, content, gctx, opts)
		if err != nil {
			return "", attempt, 0, err
		}

		if report.Passed {
			return content, attempt, report.AverageScore, nil
		}

		strategy := report.Strategy()
		if strategy.Kind == quality.StrategyRejectNoFallback || attempt > maxRetries {
			return "", attempt, report.AverageScore, &QualityError{NodeID: c.node.ID, Attempts: attempt, Report: report, Strategy: strategy}
		}

		prompt, err := strategy.Prompt(content, gctx)
		if err != nil {
			return "", attempt, report.AverageScore, err
		}

		e.logger.InfoContext(ctx, "Retrying content below quality bar",
			"execution_id", r.executionID, "node_id", c.node.ID, "strategy", strategy.Kind, "score", report.AverageScore)

		messages := []providers.Message{c.messages[0], {Role: providers.RoleUser, Content: prompt}}

		content, err = e.invoke(ctx, c, messages, out)
		if err != nil {
			return "", attempt, report.AverageScore, err
		}
	}
}

func (e *Engine) outline(ctx context.Context, r *run, node models.Node) (nodeOutput, error) {
	var out nodeOutput

	c, err := e.prepare(r, node, defaultOutlineSystem, defaultOutlinePrompt)
	if err != nil {
		return out, err
	}

	content, err := e.invoke(ctx, c, c.messages, &out)
	if err != nil {
		return out, err
	}

	parsed, err := ParseJSON(content)
	if err != nil {
		return out, fmt.Errorf("outline is not valid JSON: %w", err)
	}

	chapters := outlineChapters(parsed)

	if doc, ok := parsed.(map[string]any); ok {
		if title, ok := doc["title"].(string); ok && title != "" {
			r.story["title"] = title
		}
	}

	r.story["outline"] = chapters

	out.output = map[string]any{
		"outline":  parsed,
		"chapters": chapters,
		"tokens":   out.usage.TotalTokens,
		"cost":     out.cost,
	}

	return out, nil
}

// ParseJSON parses model output that should be JSON, repairing fences,
// trailing commas and similar damage.
func ParseJSON(content string) (any, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	if start := strings.IndexAny(text, "{["); start > 0 {
		text = text[start:]
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed, nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return nil, err
	}

	return parsed, nil
}

// outlineChapters keeps only titles and summaries so planned word targets
// are never read as generated words.
func outlineChapters(parsed any) []any {
	var raw []any

	switch doc := parsed.(type) {
	case map[string]any:
		raw, _ = doc["chapters"].([]any)
	case []any:
		raw = doc
	}

	chapters := make([]any, 0, len(raw))

	for i, item := range raw {
		chapter := map[string]any{"number": i + 1}

		switch v := item.(type) {
		case string:
			chapter["title"] = v
		case map[string]any:
			chapter["title"] = stringOr(v, "title", fmt.Sprintf("Chapter %d", i+1))
			if summary, ok := v["summary"].(string); ok {
				chapter["summary"] = summary
			}
		default:
			continue
		}

		chapters = append(chapters, chapter)
	}

	return chapters
}

func (e *Engine) output(r *run, node models.Node) nodeOutput {
	var sources []any
	for _, parent := range r.parents[node.ID] {
		sources = append(sources, parent)
	}

	return nodeOutput{output: map[string]any{
		"title":   stringOr(r.story, "title", stringOr(r.inputs, "title", "")),
		"sources": sources,
		"ready":   true,
	}}
}

func contentOf(output any) string {
	m, ok := output.(map[string]any)
	if !ok {
		return ""
	}

	content, _ := m["content"].(string)

	return content
}

func joinParagraphs(parts []string) string {
	return strings.Join(parts, "\n\n")
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}

	return out
}
