package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"heartpsalm/backend/internal/config"
	"heartpsalm/backend/internal/logging"
)

// OpenAIResponsesClient calls an OpenAI-compatible /responses endpoint.
type OpenAIResponsesClient struct {
	apiKey          string
	model           string
	maxOutputTokens int
	http            *resty.Client
}

type inputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputBlock struct {
	Role    string      `json:"role"`
	Content []inputText `json:"content"`
}

type responsesRequest struct {
	Model           string       `json:"model"`
	Input           []inputBlock `json:"input"`
	MaxOutputTokens int          `json:"max_output_tokens,omitempty"`
}

type responsesResponse struct {
	Model      string `json:"model"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
}

func NewOpenAIResponsesClient(cfg config.Config) *OpenAIResponsesClient {
	timeout := cfg.ExternalCallTimeoutDuration()
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &OpenAIResponsesClient{
		apiKey:          strings.TrimSpace(cfg.OpenAIAPIKey),
		model:           strings.TrimSpace(cfg.OpenAIModel),
		maxOutputTokens: cfg.AIMaxOutputTokens,
		http: resty.New().
			SetBaseURL(strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/")).
			SetTimeout(timeout),
	}
}

func (c *OpenAIResponsesClient) Generate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("OPENAI_API_KEY is not configured")
	}
	if c.http.BaseURL == "" {
		return "", errors.New("OPENAI_BASE_URL is not configured")
	}
	if c.model == "" {
		return "", errors.New("OPENAI_MODEL is not configured")
	}

	hasAssistantTurn := false
	for _, turn := range req.Conversation {
		if strings.EqualFold(strings.TrimSpace(turn.Role), RoleAssistant) {
			hasAssistantTurn = true
			break
		}
	}

	status, body, parsed, err := c.call(ctx, buildResponsesInput(req, true))
	if err != nil {
		return "", err
	}
	if status == http.StatusBadRequest && hasAssistantTurn && rejectsAssistantTurns(body) {
		// Some compatible servers only accept user input blocks.
		status, body, parsed, err = c.call(ctx, buildResponsesInput(req, false))
		if err != nil {
			return "", err
		}
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("openai responses error (%d): %s", status, strings.TrimSpace(body))
	}

	answer := extractResponsesAnswer(parsed)
	if answer == "" {
		if parsed.IncompleteDetails != nil && strings.EqualFold(parsed.IncompleteDetails.Reason, "max_output_tokens") {
			return "", errors.New("openai response incomplete due max_output_tokens")
		}
		l := logging.Ctx(ctx)
		l.Warn().Str("body", truncateForLog(body, 1200)).Msg("openai response had no extractable answer")
		return "", ErrEmptyAnswer
	}
	return answer, nil
}

func (c *OpenAIResponsesClient) call(ctx context.Context, input []inputBlock) (int, string, responsesResponse, error) {
	var parsed responsesResponse
	if len(input) == 0 {
		return 0, "", parsed, errors.New("AI request input is empty")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(responsesRequest{
			Model:           c.model,
			Input:           input,
			MaxOutputTokens: c.maxOutputTokens,
		}).
		SetResult(&parsed).
		Post("/responses")
	if err != nil {
		return 0, "", parsed, fmt.Errorf("openai responses request: %w", err)
	}
	return resp.StatusCode(), resp.String(), parsed, nil
}

func buildResponsesInput(req Request, includeAssistantTurns bool) []inputBlock {
	input := make([]inputBlock, 0, len(req.Conversation)+2)
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		input = append(input, inputBlock{
			Role:    "system",
			Content: []inputText{{Type: "input_text", Text: system}},
		})
	}
	for _, turn := range req.Conversation {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		if role == RoleAssistant && !includeAssistantTurns {
			continue
		}
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		contentType := "input_text"
		if role == RoleAssistant {
			contentType = "output_text"
		}
		input = append(input, inputBlock{
			Role:    role,
			Content: []inputText{{Type: contentType, Text: content}},
		})
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		input = append(input, inputBlock{
			Role:    RoleUser,
			Content: []inputText{{Type: "input_text", Text: prompt}},
		})
	}
	return input
}

func rejectsAssistantTurns(body string) bool {
	return strings.Contains(body, "Invalid value: 'input_text'") &&
		strings.Contains(body, "Supported values are: 'output_text' and 'refusal'")
}

func extractResponsesAnswer(parsed responsesResponse) string {
	if direct := strings.TrimSpace(parsed.OutputText); direct != "" {
		return direct
	}
	parts := make([]string, 0)
	for _, block := range parsed.Output {
		for _, content := range block.Content {
			kind := strings.ToLower(strings.TrimSpace(content.Type))
			if kind != "output_text" && kind != "text" {
				continue
			}
			if text := strings.TrimSpace(content.Text); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func truncateForLog(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "...(truncated)"
}
