package chat

import (
	"errors"
	"fmt"

	"heartpsalm/backend/internal/ai"
	"heartpsalm/backend/internal/store"
)

var ErrUnrecognizedEntry = errors.New("unrecognized transcript entry")

type entryKind uint8

const (
	entryUnset entryKind = iota
	entryMessage
	entryTurn
	entryText
)

// TranscriptEntry is one prior turn handed to the Responder. Build it with
// MessageEntry, TurnEntry or TextEntry; the zero value is rejected.
type TranscriptEntry struct {
	kind    entryKind
	role    store.Role
	content string
}

func MessageEntry(msg store.Message) TranscriptEntry {
	return TranscriptEntry{kind: entryMessage, role: msg.Role, content: msg.Content}
}

func TurnEntry(role store.Role, content string) TranscriptEntry {
	return TranscriptEntry{kind: entryTurn, role: role, content: content}
}

// TextEntry is a bare string, treated as a user turn.
func TextEntry(text string) TranscriptEntry {
	return TranscriptEntry{kind: entryText, role: store.RoleUser, content: text}
}

func (e TranscriptEntry) turn() (ai.Turn, error) {
	switch e.kind {
	case entryMessage, entryTurn, entryText:
	default:
		return ai.Turn{}, ErrUnrecognizedEntry
	}
	switch e.role {
	case store.RoleUser:
		return ai.Turn{Role: ai.RoleUser, Content: e.content}, nil
	case store.RoleAssistant:
		return ai.Turn{Role: ai.RoleAssistant, Content: e.content}, nil
	}
	return ai.Turn{}, fmt.Errorf("%w: role %q", ErrUnrecognizedEntry, e.role)
}

func normalizeTranscript(entries []TranscriptEntry) ([]ai.Turn, error) {
	turns := make([]ai.Turn, 0, len(entries))
	for i, entry := range entries {
		turn, err := entry.turn()
		if err != nil {
			return nil, fmt.Errorf("transcript entry %d: %w", i, err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
