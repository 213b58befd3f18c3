package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"heartpsalm/backend/internal/cache"
	"heartpsalm/backend/internal/logging"
)

const (
	previewRunes   = 30
	previewEmpty   = "No messages available"
	previewEllipse = "..."
)

// HistoryStore is the only writer of chat messages. Reads of a session's
// history, its preview and a user's session list are cached; every write
// drops exactly those three keys for the affected (user, session).
type HistoryStore struct {
	repo      MessageRepository
	cache     cache.Cache
	ttl       time.Duration
	keyPrefix string
	sf        singleflight.Group

	mu    sync.Mutex
	loads map[string]*loadState
}

// loadState tracks in-flight loads for one key. gen moves on every
// invalidation so a load that started earlier does not cache its result.
type loadState struct {
	gen     uint64
	pending int
}

func NewHistoryStore(repo MessageRepository, c cache.Cache, ttl time.Duration, keyPrefix string) *HistoryStore {
	if c == nil {
		c = cache.NullCache{}
	}
	return &HistoryStore{
		repo:      repo,
		cache:     c,
		ttl:       ttl,
		keyPrefix: keyPrefix,
		loads:     make(map[string]*loadState),
	}
}

func (s *HistoryStore) HistoryKey(userID, sessionID string) string {
	return s.buildKey("history", userID, sessionID)
}

func (s *HistoryStore) PreviewKey(userID, sessionID string) string {
	return s.buildKey("preview", userID, sessionID)
}

func (s *HistoryStore) SessionsKey(userID string) string {
	return s.buildKey("sessions", userID)
}

func (s *HistoryStore) buildKey(kind string, parts ...string) string {
	key := kind
	for _, p := range parts {
		key += ":" + p
	}
	if s.keyPrefix != "" {
		key = s.keyPrefix + ":" + key
	}
	return key
}

// Append writes msg and fills in its ID. The caller's cached views are
// invalidated on success.
func (s *HistoryStore) Append(ctx context.Context, msg *Message) error {
	if msg == nil {
		return errors.New("message is nil")
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	s.Invalidate(ctx, msg.UserID, msg.SessionID)
	return nil
}

// Remove deletes a single message previously written with Append.
func (s *HistoryStore) Remove(ctx context.Context, msg Message) error {
	if err := s.repo.DeleteMessage(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to delete message %d: %w", msg.ID, err)
	}
	s.Invalidate(ctx, msg.UserID, msg.SessionID)
	return nil
}

func (s *HistoryStore) DeleteSession(ctx context.Context, userID, sessionID string) (int64, error) {
	deleted, err := s.repo.DeleteSession(ctx, userID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session: %w", err)
	}
	s.Invalidate(ctx, userID, sessionID)
	return deleted, nil
}

// Invalidate is best-effort: failures are logged and swallowed. Reads
// issued after it returns never join a load that started before it.
func (s *HistoryStore) Invalidate(ctx context.Context, userID, sessionID string) {
	keys := []string{
		s.HistoryKey(userID, sessionID),
		s.PreviewKey(userID, sessionID),
		s.SessionsKey(userID),
	}

	s.mu.Lock()
	for _, key := range keys {
		if st, ok := s.loads[key]; ok {
			st.gen++
		}
		s.sf.Forget(key)
	}
	s.mu.Unlock()

	if err := s.cache.Delete(ctx, keys...); err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).
			Str(logging.FieldUserID, userID).
			Str(logging.FieldSessionID, sessionID).
			Msg("cache invalidation failed")
	}
}

func (s *HistoryStore) History(ctx context.Context, userID, sessionID string) ([]Message, error) {
	var out []Message
	err := s.cached(ctx, s.HistoryKey(userID, sessionID), &out, func() (any, error) {
		msgs, err := s.repo.ListMessages(ctx, userID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		if msgs == nil {
			msgs = []Message{}
		}
		return msgs, nil
	})
	return out, err
}

func (s *HistoryStore) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	var out []SessionSummary
	err := s.cached(ctx, s.SessionsKey(userID), &out, func() (any, error) {
		sessions, err := s.repo.ListSessions(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		if sessions == nil {
			sessions = []SessionSummary{}
		}
		return sessions, nil
	})
	return out, err
}

func (s *HistoryStore) Preview(ctx context.Context, userID, sessionID string) (string, error) {
	var out string
	err := s.cached(ctx, s.PreviewKey(userID, sessionID), &out, func() (any, error) {
		first, err := s.repo.FirstMessage(ctx, userID, sessionID)
		if errors.Is(err, ErrNotFound) {
			return previewEmpty, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load first message: %w", err)
		}
		return previewText(first.Content), nil
	})
	return out, err
}

func previewText(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes]) + previewEllipse
}

// cached serves key from the cache, or runs load once per concurrent miss
// and stores its result before returning. The result is not stored when
// the key was invalidated while load ran.
func (s *HistoryStore) cached(ctx context.Context, key string, dest any, load func() (any, error)) error {
	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Str("key", key).Msg("cache get error")
	}

	result, err, _ := s.sf.Do(key, func() (any, error) {
		gen := s.beginLoad(key)
		value, err := load()
		s.endLoad(ctx, key, gen, value, err == nil)
		if err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return err
	}
	return assign(dest, result)
}

func (s *HistoryStore) beginLoad(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.loads[key]
	if !ok {
		st = &loadState{}
		s.loads[key] = st
	}
	st.pending++
	return st.gen
}

// endLoad caches value if no invalidation ran since beginLoad. The lock is
// held across Set so an Invalidate either bumps gen first or deletes after.
func (s *HistoryStore) endLoad(ctx context.Context, key string, gen uint64, value any, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.loads[key]
	if ok && st.gen == gen {
		if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
			l := logging.Ctx(ctx)
			l.Warn().Err(err).Str("key", key).Msg("cache set error")
		}
	}
	st.pending--
	if st.pending == 0 {
		delete(s.loads, key)
	}
}

func assign(dest, value any) error {
	switch d := dest.(type) {
	case *[]Message:
		v, ok := value.([]Message)
		if !ok {
			return fmt.Errorf("unexpected cached type %T", value)
		}
		*d = make([]Message, len(v))
		copy(*d, v)
	case *[]SessionSummary:
		v, ok := value.([]SessionSummary)
		if !ok {
			return fmt.Errorf("unexpected cached type %T", value)
		}
		*d = make([]SessionSummary, len(v))
		copy(*d, v)
	case *string:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("unexpected cached type %T", value)
		}
		*d = v
	default:
		return fmt.Errorf("unsupported cache destination %T", dest)
	}
	return nil
}
