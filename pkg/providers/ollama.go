package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/inkwell/pkg/models"
)

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// SinglePrompt is the single-prompt call shape: the conversation is flattened
// into one prompt for /api/generate.
type SinglePrompt struct {
	httpClient *http.Client
	baseURL    string
}

func NewOllama(baseURL string) *SinglePrompt {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &SinglePrompt{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (s *SinglePrompt) Name() string {
	return "ollama"
}

func (s *SinglePrompt) Generate(ctx context.Context, req Request) (Response, error) {
	system, conversation := SplitSystem(req.Messages)

	payload := ollamaRequest{
		Model:  req.Model,
		Prompt: flatten(conversation),
		System: system,
		Stream: false,
	}

	options := map[string]any{}
	if req.Options.Temperature != nil {
		options["temperature"] = *req.Options.Temperature
	}

	if req.Options.TopP != nil {
		options["top_p"] = *req.Options.TopP
	}

	if req.Options.MaxTokens > 0 {
		options["num_predict"] = req.Options.MaxTokens
	}

	if len(req.Options.Stop) > 0 {
		options["stop"] = req.Options.Stop
	}

	if len(options) > 0 {
		payload.Options = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create ollama request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read ollama response: %w", err)
	}

	var decoded ollamaResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, fmt.Errorf("failed to decode ollama response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || decoded.Error != "" {
		return Response{}, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, decoded.Error)
	}

	if decoded.Response == "" {
		return Response{}, ErrNoContent
	}

	model := decoded.Model
	if model == "" {
		model = req.Model
	}

	return Response{
		Content:  decoded.Response,
		Model:    model,
		Provider: s.Name(),
		Usage: models.TokenUsage{
			PromptTokens:     decoded.PromptEvalCount,
			CompletionTokens: decoded.EvalCount,
			TotalTokens:      decoded.PromptEvalCount + decoded.EvalCount,
		},
	}, nil
}

func flatten(messages []Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}

	var b strings.Builder

	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}

		fmt.Fprintf(&b, "%s: %s", msg.Role, msg.Content)
	}

	return b.String()
}
