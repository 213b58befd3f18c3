package chat

import (
	"context"
	"fmt"
	"time"

	"heartpsalm/backend/internal/logging"
	"heartpsalm/backend/internal/markup"
	"heartpsalm/backend/internal/store"
)

type ViewMessage struct {
	Role      store.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

type SessionPreview struct {
	SessionID    string    `json:"session_id"`
	Preview      string    `json:"preview"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
}

type View struct {
	SessionID    string             `json:"session_id"`
	Messages     []ViewMessage      `json:"chat_history"`
	Sessions     []SessionPreview   `json:"chat_files"`
	Instructions store.Instructions `json:"instructions"`
}

// View assembles the chat page for the active session. Message content is
// formatted here, at read time.
func (o *Orchestrator) View(ctx context.Context, userID, activeSession string) (View, error) {
	history, err := o.deps.History.History(ctx, userID, activeSession)
	if err != nil {
		return View{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	messages := make([]ViewMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, ViewMessage{
			Role:      msg.Role,
			Content:   markup.Format(msg.Content),
			CreatedAt: msg.CreatedAt,
		})
	}

	sessions, err := o.Sessions(ctx, userID, activeSession)
	if err != nil {
		return View{}, err
	}

	instructions, err := o.deps.Instructions.GetInstructions(ctx)
	if err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Msg("chat instructions unavailable; using defaults")
		instructions = store.DefaultInstructions
	}

	return View{
		SessionID:    activeSession,
		Messages:     messages,
		Sessions:     sessions,
		Instructions: instructions,
	}, nil
}

// Sessions lists the user's sessions, most recently active first, each with
// its preview.
func (o *Orchestrator) Sessions(ctx context.Context, userID, activeSession string) ([]SessionPreview, error) {
	summaries, err := o.deps.History.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	out := make([]SessionPreview, 0, len(summaries))
	for _, s := range summaries {
		preview, err := o.deps.History.Preview(ctx, userID, s.SessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		out = append(out, SessionPreview{
			SessionID:    s.SessionID,
			Preview:      preview,
			LastActivity: s.LastActivity,
			Active:       s.SessionID == activeSession,
		})
	}
	return out, nil
}
