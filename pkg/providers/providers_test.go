package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Generate(ctx context.Context, req Request) (Response, error) {
	args := m.Called(ctx, req)

	return args.Get(0).(Response), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_RegisteredProvider(t *testing.T) {
	backend := &mockProvider{name: "OpenAI"}
	backend.On("Generate", mock.Anything, mock.MatchedBy(func(req Request) bool {
		return req.Model == "gpt-4o" && len(req.Messages) == 1
	})).Return(Response{Content: "hello", Usage: usage(3, 2)}, nil).Once()

	d := NewDispatcher(discardLogger())
	d.Register(backend)

	resp, err := d.Generate(context.Background(), "openai", "gpt-4o", []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "gpt-4o", resp.Model)
	assert.Equal(t, int64(5), resp.Usage.TotalTokens)
	backend.AssertExpectations(t)
}

func TestDispatcher_ErrorsAreNotRetried(t *testing.T) {
	upstream := errors.New("upstream exploded")

	backend := &mockProvider{name: "anthropic"}
	backend.On("Generate", mock.Anything, mock.Anything).Return(Response{}, upstream).Once()

	d := NewDispatcher(discardLogger())
	d.Register(backend)

	_, err := d.Generate(context.Background(), "anthropic", "claude", nil, Options{})
	require.Error(t, err)

	assert.ErrorIs(t, err, upstream)
	assert.True(t, orchestration.IsProviderError(err))

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "anthropic", callErr.Provider)

	backend.AssertNumberOfCalls(t, "Generate", 1)
}

func TestDispatcher_UnknownProviderUsesFallback(t *testing.T) {
	var built []string

	fallback := &mockProvider{name: "mistral"}
	fallback.On("Generate", mock.Anything, mock.Anything).Return(Response{Content: "ok"}, nil)

	d := NewDispatcher(discardLogger(), WithFallback(func(name string) Provider {
		built = append(built, name)

		return fallback
	}))

	for range 2 {
		_, err := d.Generate(context.Background(), "Mistral", "large", nil, Options{})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"mistral"}, built)
}

func TestGenericEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.mistral.com/v1", GenericEndpoint(" Mistral "))
}

func TestGenericAPIKey(t *testing.T) {
	t.Setenv("TOGETHER_AI_API_KEY", "secret")

	assert.Equal(t, "secret", GenericAPIKey("together-ai"))
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: "be kind"},
	})

	assert.Equal(t, "be brief\n\nbe kind", system)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hi"}}, rest)
}

func TestChatCompletion_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Once upon a time"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14}
		}`))
	}))
	defer server.Close()

	provider := NewChatCompletion("openai", server.URL+"/v1", "key")

	resp, err := provider.Generate(context.Background(), Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: RoleUser, Content: "Tell me a story"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Once upon a time", resp.Content)
	assert.Equal(t, int64(14), resp.Usage.TotalTokens)
	assert.Equal(t, int64(10), resp.Usage.PromptTokens)
}

func TestChatCompletion_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "choices": []}`))
	}))
	defer server.Close()

	_, err := NewChatCompletion("openai", server.URL+"/v1", "key").Generate(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestMessages_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var body anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "You write novels", body.System)
		assert.Equal(t, anthropicDefaultMaxToks, body.MaxTokens)
		assert.Len(t, body.Messages, 1)

		_, _ = w.Write([]byte(`{
			"model": "claude-3-5-haiku",
			"content": [{"type": "text", "text": "Chapter "}, {"type": "text", "text": "One"}],
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`))
	}))
	defer server.Close()

	provider := NewAnthropic("key", server.URL)

	resp, err := provider.Generate(context.Background(), Request{
		Model: "claude-3-5-haiku",
		Messages: []Message{
			{Role: RoleSystem, Content: "You write novels"},
			{Role: RoleUser, Content: "Begin"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Chapter One", resp.Content)
	assert.Equal(t, int64(20), resp.Usage.TotalTokens)
}

func TestMessages_ErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer server.Close()

	_, err := NewAnthropic("key", server.URL).Generate(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit_error")
}

func TestSinglePrompt_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var body ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.False(t, body.Stream)
		assert.Equal(t, "Write a haiku", body.Prompt)
		assert.EqualValues(t, 64, body.Options["num_predict"])

		_, _ = w.Write([]byte(`{"model": "llama3", "response": "autumn moon", "done": true, "prompt_eval_count": 5, "eval_count": 3}`))
	}))
	defer server.Close()

	resp, err := NewOllama(server.URL+"/").Generate(context.Background(), Request{
		Model:    "llama3",
		Messages: []Message{{Role: RoleUser, Content: "Write a haiku"}},
		Options:  Options{MaxTokens: 64},
	})
	require.NoError(t, err)

	assert.Equal(t, "autumn moon", resp.Content)
	assert.Equal(t, int64(8), resp.Usage.TotalTokens)
}

func TestFlatten(t *testing.T) {
	prompt := flatten([]Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
	})

	assert.Equal(t, "user: a\n\nassistant: b", prompt)
}

func usage(prompt, completion int64) models.TokenUsage {
	return models.TokenUsage{PromptTokens: prompt, CompletionTokens: completion}
}
