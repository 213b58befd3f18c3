package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	}
	return "", fmt.Errorf("unknown message role %q", raw)
}

var (
	ErrNotFound = errors.New("not found")
	// ErrMissingInstructions means the chat_configurations rows were never seeded.
	ErrMissingInstructions = errors.New("chat instructions are not configured")
)

// DuplicateUserError reports which unique field collided on user creation.
type DuplicateUserError struct {
	Field string
}

func (e *DuplicateUserError) Error() string {
	return fmt.Sprintf("user with this %s already exists", e.Field)
}

type Message struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is one entry of a user's session list.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	LastActivity time.Time `json:"last_activity"`
}

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Instructions are the fixed texts injected ahead of every conversational
// model call, one per role.
type Instructions struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, id int64) error
	// ListMessages returns a session's messages ordered by (created_at, id).
	ListMessages(ctx context.Context, userID, sessionID string) ([]Message, error)
	// ListSessions orders sessions by their latest message, newest first.
	ListSessions(ctx context.Context, userID string) ([]SessionSummary, error)
	// FirstMessage returns ErrNotFound for an empty session.
	FirstMessage(ctx context.Context, userID, sessionID string) (Message, error)
	DeleteSession(ctx context.Context, userID, sessionID string) (int64, error)
}

type ConfigRepository interface {
	GetInstructions(ctx context.Context) (Instructions, error)
	// SeedInstructions inserts the rows that are missing and leaves existing ones alone.
	SeedInstructions(ctx context.Context, defaults Instructions) error
}

type UserRepository interface {
	// CreateUser returns *DuplicateUserError when username or email is taken.
	CreateUser(ctx context.Context, user User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

type Repository interface {
	MessageRepository
	ConfigRepository
	UserRepository
}
