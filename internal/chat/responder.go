package chat

import (
	"context"

	"heartpsalm/backend/internal/ai"
	"heartpsalm/backend/internal/logging"
)

const responderErrPrefix = "Error generating response: "

type Responder struct {
	client ai.Client
}

func NewResponder(client ai.Client) *Responder {
	return &Responder{client: client}
}

// Respond continues the conversation in transcript with message as the
// newest user turn. Model failures come back as reply text; only a
// malformed transcript is returned as an error.
func (r *Responder) Respond(ctx context.Context, message string, transcript []TranscriptEntry) (string, error) {
	turns, err := normalizeTranscript(transcript)
	if err != nil {
		return "", err
	}

	reply, err := r.client.Generate(ctx, ai.Request{Conversation: turns, Prompt: message})
	if err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Msg("generative response failed")
		return responderErrPrefix + err.Error(), nil
	}
	return reply, nil
}
