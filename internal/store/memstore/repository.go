// Package memstore is an in-memory store.Repository used by tests and by
// DB_DRIVER=memory local runs.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"heartpsalm/backend/internal/store"
)

type Repository struct {
	mu           sync.Mutex
	nextID       int64
	messages     []store.Message
	users        map[string]store.User
	instructions map[store.Role]string

	// Fail hooks let tests inject persistence errors.
	FailInsert func(msg store.Message) error
	FailDelete func(id int64) error
}

func New() *Repository {
	return &Repository{
		users:        make(map[string]store.User),
		instructions: make(map[store.Role]string),
	}
}

func (r *Repository) InsertMessage(_ context.Context, msg *store.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailInsert != nil {
		if err := r.FailInsert(*msg); err != nil {
			return err
		}
	}
	r.nextID++
	msg.ID = r.nextID
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *Repository) DeleteMessage(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailDelete != nil {
		if err := r.FailDelete(id); err != nil {
			return err
		}
	}
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	r.messages = kept
	return nil
}

func (r *Repository) ListMessages(_ context.Context, userID, sessionID string) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionMessages(userID, sessionID), nil
}

func (r *Repository) sessionMessages(userID, sessionID string) []store.Message {
	out := make([]store.Message, 0)
	for _, m := range r.messages {
		if m.UserID == userID && m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Repository) FirstMessage(_ context.Context, userID, sessionID string) (store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.sessionMessages(userID, sessionID)
	if len(msgs) == 0 {
		return store.Message{}, store.ErrNotFound
	}
	return msgs[0], nil
}

func (r *Repository) ListSessions(_ context.Context, userID string) ([]store.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	latest := make(map[string]store.SessionSummary)
	for _, m := range r.messages {
		if m.UserID != userID {
			continue
		}
		cur, ok := latest[m.SessionID]
		if !ok || m.CreatedAt.After(cur.LastActivity) {
			latest[m.SessionID] = store.SessionSummary{SessionID: m.SessionID, LastActivity: m.CreatedAt}
		}
	}

	out := make([]store.SessionSummary, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

func (r *Repository) DeleteSession(_ context.Context, userID, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.UserID == userID && m.SessionID == sessionID {
			deleted++
			continue
		}
		kept = append(kept, m)
	}
	r.messages = kept
	return deleted, nil
}

// Messages returns every stored message in insertion order.
func (r *Repository) Messages() []store.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Message(nil), r.messages...)
}

func (r *Repository) GetInstructions(_ context.Context) (store.Instructions, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, okUser := r.instructions[store.RoleUser]
	assistant, okAssistant := r.instructions[store.RoleAssistant]
	if !okUser || !okAssistant {
		return store.Instructions{}, store.ErrMissingInstructions
	}
	return store.Instructions{User: user, Assistant: assistant}, nil
}

func (r *Repository) SeedInstructions(_ context.Context, defaults store.Instructions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instructions[store.RoleUser]; !ok {
		r.instructions[store.RoleUser] = defaults.User
	}
	if _, ok := r.instructions[store.RoleAssistant]; !ok {
		r.instructions[store.RoleAssistant] = defaults.Assistant
	}
	return nil
}

func (r *Repository) CreateUser(_ context.Context, user store.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Username == user.Username {
			return &store.DuplicateUserError{Field: "username"}
		}
		if existing.Email == user.Email {
			return &store.DuplicateUserError{Field: "email"}
		}
	}
	if _, ok := r.users[user.ID]; ok {
		return errors.New("user id already exists")
	}
	r.users[user.ID] = user
	return nil
}

func (r *Repository) GetUserByID(_ context.Context, id string) (store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	return r.findUser(func(u store.User) bool { return u.Username == username })
}

func (r *Repository) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	return r.findUser(func(u store.User) bool { return u.Email == email })
}

func (r *Repository) findUser(match func(store.User) bool) (store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if match(u) {
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

var _ store.Repository = (*Repository)(nil)
