package ai

import (
	"context"
	"strings"
)

// MockClient answers offline so the app can run without an API key. It
// recognizes the yes/no and sentiment classification prompts by their
// closing instruction and looks only at their "Input:" line.
type MockClient struct{}

func (MockClient) Generate(_ context.Context, req Request) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	lowered := strings.ToLower(prompt)
	input := promptInput(lowered)

	switch {
	case strings.Contains(lowered, "respond with 'yes' or 'no'"):
		if strings.Contains(input, "song") || strings.Contains(input, "music") {
			return "yes", nil
		}
		return "no", nil
	case strings.Contains(lowered, "respond with one word: positive, neutral or negative"):
		for _, word := range []string{"sad", "lonely", "anxious", "afraid", "hurt", "tired", "lost"} {
			if strings.Contains(input, word) {
				return "negative", nil
			}
		}
		for _, word := range []string{"happy", "grateful", "thankful", "joy", "blessed"} {
			if strings.Contains(input, word) {
				return "positive", nil
			}
		}
		return "neutral", nil
	}

	if prompt == "" {
		prompt = "No message provided."
	}
	return "**Psalm 46:1** God is our refuge and strength, an ever-present help in trouble.\n" +
		"Mock response to: " + prompt, nil
}

func promptInput(lowered string) string {
	idx := strings.LastIndex(lowered, "input:")
	if idx < 0 {
		return lowered
	}
	rest := lowered[idx+len("input:"):]
	if end := strings.Index(rest, "\n"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
