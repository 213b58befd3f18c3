// Package ai talks to generative-language model APIs.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"heartpsalm/backend/internal/config"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrEmptyAnswer = errors.New("model returned an empty answer")

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation call: optional system prompt, prior turns
// oldest first, then the prompt being answered.
type Request struct {
	SystemPrompt string
	Conversation []Turn
	Prompt       string
}

type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// New returns the client selected by AI_PROVIDER.
func New(ctx context.Context, cfg config.Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "", "gemini":
		return NewGeminiClient(ctx, cfg)
	case "openai":
		return NewOpenAIResponsesClient(cfg), nil
	case "mock":
		return MockClient{}, nil
	default:
		return nil, fmt.Errorf("unsupported AI_PROVIDER %q", cfg.AIProvider)
	}
}
