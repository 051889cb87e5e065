// Package providers offers one call interface over heterogeneous AI text
// generation backends.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
)

// Roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrNoContent = errors.New("provider returned no content")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   int
	Stop        []string
}

type Request struct {
	Model    string
	Messages []Message
	Options  Options
}

type Response struct {
	Content  string
	Usage    models.TokenUsage
	Model    string
	Provider string
}

// Provider is one backend call shape. Implementations never retry; the
// caller owns retry policy.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// CallError carries the failing provider. The backend error stays reachable
// through errors.Is/As.
type CallError struct {
	Provider string
	Model    string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func (e *CallError) Is(target error) bool {
	return target == orchestration.ErrProviderError
}

// SplitSystem separates system messages from the conversation.
func SplitSystem(messages []Message) (string, []Message) {
	var (
		system string
		rest   = make([]Message, 0, len(messages))
	)

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}

			system += msg.Content

			continue
		}

		rest = append(rest, msg)
	}

	return system, rest
}
