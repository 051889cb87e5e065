package providers

import (
	"context"
	"fmt"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/sashabaranov/go-openai"
)

// ChatCompletion is the chat-completion call shape, served by go-openai
// against any OpenAI compatible endpoint.
type ChatCompletion struct {
	name   string
	client *openai.Client
}

// NewOpenAI targets the OpenAI API.
func NewOpenAI(apiKey string) *ChatCompletion {
	return &ChatCompletion{name: "openai", client: openai.NewClient(apiKey)}
}

// NewChatCompletion targets an OpenAI compatible base URL under the given
// provider name.
func NewChatCompletion(name, baseURL, apiKey string) *ChatCompletion {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &ChatCompletion{name: name, client: openai.NewClientWithConfig(config)}
}

func (c *ChatCompletion) Name() string {
	return c.name
}

func (c *ChatCompletion) Generate(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
	}

	completion := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}

	if req.Options.Temperature != nil {
		completion.Temperature = *req.Options.Temperature
	}

	if req.Options.TopP != nil {
		completion.TopP = *req.Options.TopP
	}

	if req.Options.MaxTokens > 0 {
		completion.MaxCompletionTokens = req.Options.MaxTokens
	}

	if len(req.Options.Stop) > 0 {
		completion.Stop = req.Options.Stop
	}

	resp, err := c.client.CreateChatCompletion(ctx, completion)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Response{}, ErrNoContent
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return Response{
		Content:  resp.Choices[0].Message.Content,
		Model:    model,
		Provider: c.name,
		Usage: models.TokenUsage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:      int64(resp.Usage.TotalTokens),
		},
	}, nil
}
