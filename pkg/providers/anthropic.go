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

const (
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultURL     = "https://api.anthropic.com/v1/messages"
	anthropicDefaultMaxToks = 4096
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Messages is the message-style call shape.
type Messages struct {
	httpClient *http.Client
	url        string
	apiKey     string
}

func NewAnthropic(apiKey, url string) *Messages {
	if url == "" {
		url = anthropicDefaultURL
	}

	return &Messages{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		url:        url,
		apiKey:     apiKey,
	}
}

func (m *Messages) Name() string {
	return "anthropic"
}

func (m *Messages) Generate(ctx context.Context, req Request) (Response, error) {
	system, conversation := SplitSystem(req.Messages)

	payload := anthropicRequest{
		Model:       req.Model,
		System:      system,
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		StopSeqs:    req.Options.Stop,
	}

	if payload.MaxTokens <= 0 {
		payload.MaxTokens = anthropicDefaultMaxToks
	}

	for _, msg := range conversation {
		payload.Messages = append(payload.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create anthropic request: %w", err)
	}

	httpReq.Header.Set("x-api-key", m.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read anthropic response: %w", err)
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Response{}, fmt.Errorf("failed to decode anthropic response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if decoded.Error != nil {
			return Response{}, fmt.Errorf("anthropic returned %d: %s: %s", resp.StatusCode, decoded.Error.Type, decoded.Error.Message)
		}

		return Response{}, fmt.Errorf("anthropic returned %d", resp.StatusCode)
	}

	var text strings.Builder

	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return Response{}, ErrNoContent
	}

	return Response{
		Content:  text.String(),
		Model:    decoded.Model,
		Provider: m.Name(),
		Usage: models.TokenUsage{
			PromptTokens:     decoded.Usage.InputTokens,
			CompletionTokens: decoded.Usage.OutputTokens,
			TotalTokens:      decoded.Usage.InputTokens + decoded.Usage.OutputTokens,
		},
	}, nil
}
