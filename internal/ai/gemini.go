package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	generativelanguage "google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"

	"heartpsalm/backend/internal/config"
)

type GeminiClient struct {
	svc             *generativelanguage.Service
	model           string
	maxOutputTokens int
}

func NewGeminiClient(ctx context.Context, cfg config.Config, opts ...option.ClientOption) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(cfg.GenerativeAIAPIKey)
	if apiKey == "" && len(opts) == 0 {
		return nil, errors.New("GENERATIVE_AI_API_KEY is not configured")
	}
	if apiKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	}

	svc, err := generativelanguage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create generative language service: %w", err)
	}

	model := strings.TrimSpace(cfg.GeminiModel)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiClient{
		svc:             svc,
		model:           model,
		maxOutputTokens: cfg.AIMaxOutputTokens,
	}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	contents := make([]*generativelanguage.Content, 0, len(req.Conversation)+1)
	for _, turn := range req.Conversation {
		text := strings.TrimSpace(turn.Content)
		if text == "" {
			continue
		}
		contents = append(contents, &generativelanguage.Content{
			Role:  geminiRole(turn.Role),
			Parts: []*generativelanguage.Part{{Text: text}},
		})
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		contents = append(contents, &generativelanguage.Content{
			Role:  "user",
			Parts: []*generativelanguage.Part{{Text: prompt}},
		})
	}
	if len(contents) == 0 {
		return "", errors.New("AI request input is empty")
	}

	call := &generativelanguage.GenerateContentRequest{Contents: contents}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		call.SystemInstruction = &generativelanguage.Content{
			Parts: []*generativelanguage.Part{{Text: system}},
		}
	}
	if c.maxOutputTokens > 0 {
		call.GenerationConfig = &generativelanguage.GenerationConfig{
			MaxOutputTokens: int64(c.maxOutputTokens),
		}
	}

	resp, err := c.svc.Models.GenerateContent("models/"+c.model, call).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	answer := extractGeminiAnswer(resp)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}

func geminiRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), RoleAssistant) {
		return "model"
	}
	return "user"
}

func extractGeminiAnswer(resp *generativelanguage.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		parts := make([]string, 0, len(candidate.Content.Parts))
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if text := strings.TrimSpace(part.Text); text != "" {
				parts = append(parts, text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return ""
}
