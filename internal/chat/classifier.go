package chat

import (
	"context"
	"fmt"
	"strings"

	"heartpsalm/backend/internal/ai"
)

type Emotion string

const (
	EmotionJoyful     Emotion = "joyful"
	EmotionWorship    Emotion = "worship"
	EmotionComforting Emotion = "comforting"
	EmotionPraise     Emotion = "praise"
)

// Classifier makes the two model-backed decisions of a turn. Neither call
// retries.
type Classifier struct {
	client ai.Client
}

func NewClassifier(client ai.Client) *Classifier {
	return &Classifier{client: client}
}

// DetectEmotion maps the model's positive/neutral/negative label to a song
// search keyword. On error it still returns EmotionPraise.
func (c *Classifier) DetectEmotion(ctx context.Context, text string) (Emotion, error) {
	answer, err := c.client.Generate(ctx, ai.Request{Prompt: sentimentPrompt(text)})
	if err != nil {
		return EmotionPraise, fmt.Errorf("detect sentiment: %w", err)
	}
	switch normalizeLabel(answer) {
	case "positive":
		return EmotionJoyful, nil
	case "neutral":
		return EmotionWorship, nil
	case "negative":
		return EmotionComforting, nil
	default:
		return EmotionPraise, nil
	}
}

// WantsSong reports whether text asks for a song recommendation. Errors
// read as false.
func (c *Classifier) WantsSong(ctx context.Context, text string) (bool, error) {
	answer, err := c.client.Generate(ctx, ai.Request{Prompt: intentPrompt(text)})
	if err != nil {
		return false, fmt.Errorf("detect song intent: %w", err)
	}
	return normalizeLabel(answer) == "yes", nil
}

func normalizeLabel(answer string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(answer)), ".!'\"")
}

func sentimentPrompt(text string) string {
	return "Classify the overall sentiment of the following input from a user " +
		"of a Christian encouragement app.\n" +
		"Input: " + text + "\n" +
		"Respond with one word: positive, neutral or negative."
}

func intentPrompt(text string) string {
	return "You are a helpful assistant. " +
		"Based on the following input, determine if the user is asking for a song recommendation. " +
		"Greetings, general conversation, and descriptions of feelings that do not ask for a song mean 'no'. " +
		"An explicit request for a song, or an unclear wish to be uplifted with music, means 'yes'. " +
		"Questions about a particular song title or artist mean 'no'.\n" +
		"Input: " + text + "\n" +
		"Does this input indicate interest in a song recommendation? Respond with 'yes' or 'no':"
}
