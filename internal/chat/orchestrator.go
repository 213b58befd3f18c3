package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"heartpsalm/backend/internal/cache"
	"heartpsalm/backend/internal/logging"
	"heartpsalm/backend/internal/markup"
	"heartpsalm/backend/internal/store"
)

var (
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrPersistence  = errors.New("chat persistence failed")
)

// SongRecommender turns an emotion keyword into a displayable reply.
type SongRecommender interface {
	Recommend(ctx context.Context, emotion string) string
}

type TurnRequest struct {
	UserID         string
	SessionID      string
	Text           string
	IdempotencyKey string
}

// Turn is what the caller shows right away; both sides are formatted.
type Turn struct {
	UserInput         string `json:"user_input"`
	AssistantResponse string `json:"assistant_response"`
}

type Deps struct {
	History      *store.HistoryStore
	Instructions store.ConfigRepository
	Classifier   *Classifier
	Songs        SongRecommender
	Responder    *Responder
	// Cache holds idempotent turn results. Nil disables replay.
	Cache cache.Cache
}

type Options struct {
	CallTimeout    time.Duration
	IdempotencyTTL time.Duration
	KeyPrefix      string
}

type Orchestrator struct {
	deps  Deps
	opts  Options
	locks *keyedMutex
	turns singleflight.Group

	clockMu sync.Mutex
	now     func() time.Time
	last    time.Time
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Cache == nil {
		deps.Cache = cache.NullCache{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 20 * time.Second
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 5 * time.Minute
	}
	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		now:   time.Now,
		locks: newKeyedMutex(),
	}
}

// StartSession allocates a new session token. Nothing is stored until the
// first message arrives.
func (o *Orchestrator) StartSession() string {
	return uuid.NewString()
}

func (o *Orchestrator) HandleMessage(ctx context.Context, req TurnRequest) (Turn, error) {
	o.transition(ctx, req, StateAwaitingInput)

	text := strings.TrimSpace(req.Text)
	if text == "" {
		o.transition(ctx, req, StateRejectedEmpty)
		return Turn{}, ErrEmptyMessage
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SessionID) == "" {
		return Turn{}, errors.New("user and session are required")
	}
	req.Text = text
	o.transition(ctx, req, StateInputValidated)

	if req.IdempotencyKey == "" {
		return o.runTurn(ctx, req)
	}
	return o.runIdempotent(ctx, req)
}

func (o *Orchestrator) runIdempotent(ctx context.Context, req TurnRequest) (Turn, error) {
	key := o.idempotencyKey(req)

	var replay Turn
	if err := o.deps.Cache.Get(ctx, key, &replay); err == nil {
		l := logging.Ctx(ctx)
		l.Debug().Str("idempotency_key", req.IdempotencyKey).Msg("replaying stored turn")
		return replay, nil
	}

	result, err, _ := o.turns.Do(key, func() (any, error) {
		turn, err := o.runTurn(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := o.deps.Cache.Set(ctx, key, turn, o.opts.IdempotencyTTL); err != nil {
			l := logging.Ctx(ctx)
			l.Warn().Err(err).Msg("failed to store turn for replay")
		}
		return turn, nil
	})
	if err != nil {
		return Turn{}, err
	}
	return result.(Turn), nil
}

func (o *Orchestrator) idempotencyKey(req TurnRequest) string {
	key := "turn:" + req.UserID + ":" + req.SessionID + ":" + req.IdempotencyKey
	if o.opts.KeyPrefix != "" {
		key = o.opts.KeyPrefix + ":" + key
	}
	return key
}

func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest) (Turn, error) {
	unlock := o.locks.Lock(req.UserID + "\x00" + req.SessionID)
	defer unlock()

	userMsg := store.Message{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Role:      store.RoleUser,
		Content:   req.Text,
		CreatedAt: o.timestamp(),
	}
	if err := o.deps.History.Append(ctx, &userMsg); err != nil {
		o.transition(ctx, req, StatePersistenceFailed)
		return Turn{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	o.transition(ctx, req, StatePersistedUser)

	emotion, wantsSong := o.classify(ctx, req)

	var reply string
	if wantsSong {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		reply = o.deps.Songs.Recommend(callCtx, string(emotion))
		cancel()
	} else {
		transcript, err := o.transcript(ctx, userMsg)
		if err != nil {
			o.rollback(ctx, req, userMsg)
			return Turn{}, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		reply, err = o.deps.Responder.Respond(callCtx, req.Text, transcript)
		cancel()
		if err != nil {
			o.rollback(ctx, req, userMsg)
			return Turn{}, err
		}
	}
	o.transition(ctx, req, StateResponded)

	assistantMsg := store.Message{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Role:      store.RoleAssistant,
		Content:   reply,
		CreatedAt: o.timestamp(),
	}
	if err := o.deps.History.Append(ctx, &assistantMsg); err != nil {
		o.rollback(ctx, req, userMsg)
		return Turn{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	o.transition(ctx, req, StatePersistedAssistant)

	o.deps.History.Invalidate(ctx, req.UserID, req.SessionID)
	o.transition(ctx, req, StateDone)

	return Turn{
		UserInput:         markup.Format(req.Text),
		AssistantResponse: markup.Format(reply),
	}, nil
}

func (o *Orchestrator) classify(ctx context.Context, req TurnRequest) (Emotion, bool) {
	failed := false

	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	emotion, err := o.deps.Classifier.DetectEmotion(callCtx, req.Text)
	cancel()
	if err != nil {
		failed = true
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Str(logging.FieldSessionID, req.SessionID).Msg("sentiment detection failed; using fallback")
	}

	callCtx, cancel = context.WithTimeout(ctx, o.opts.CallTimeout)
	wantsSong, err := o.deps.Classifier.WantsSong(callCtx, req.Text)
	cancel()
	if err != nil {
		failed = true
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Str(logging.FieldSessionID, req.SessionID).Msg("intent detection failed; using fallback")
	}

	if failed {
		o.transition(ctx, req, StateClassificationFailed)
	}
	o.transition(ctx, req, StateClassified)
	return emotion, wantsSong
}

// transcript is the two instruction turns followed by the session's prior
// messages, oldest first, without current.
func (o *Orchestrator) transcript(ctx context.Context, current store.Message) ([]TranscriptEntry, error) {
	instructions, err := o.deps.Instructions.GetInstructions(ctx)
	if err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Msg("chat instructions unavailable; using defaults")
		instructions = store.DefaultInstructions
	}

	history, err := o.deps.History.History(ctx, current.UserID, current.SessionID)
	if err != nil {
		return nil, err
	}

	entries := make([]TranscriptEntry, 0, len(history)+2)
	entries = append(entries,
		TurnEntry(store.RoleUser, instructions.User),
		TurnEntry(store.RoleAssistant, instructions.Assistant),
	)
	for _, msg := range history {
		if msg.ID == current.ID {
			continue
		}
		entries = append(entries, MessageEntry(msg))
	}
	return entries, nil
}

// rollback removes the user message of a turn that could not complete.
func (o *Orchestrator) rollback(ctx context.Context, req TurnRequest, userMsg store.Message) {
	o.transition(ctx, req, StatePersistenceFailed)
	if err := o.deps.History.Remove(ctx, userMsg); err != nil {
		l := logging.Ctx(ctx)
		l.Error().Err(err).
			Int64("message_id", userMsg.ID).
			Str(logging.FieldSessionID, req.SessionID).
			Msg("failed to roll back user message")
	}
}

// timestamp returns the current time at database precision. Successive
// calls are strictly increasing even if the wall clock stalls or steps back.
func (o *Orchestrator) timestamp() time.Time {
	o.clockMu.Lock()
	defer o.clockMu.Unlock()

	t := o.now().UTC().Truncate(time.Microsecond)
	if !t.After(o.last) {
		t = o.last.Add(time.Microsecond)
	}
	o.last = t
	return t
}

func (o *Orchestrator) transition(ctx context.Context, req TurnRequest, state TurnState) {
	l := logging.Ctx(ctx)
	l.Debug().
		Str(logging.FieldUserID, req.UserID).
		Str(logging.FieldSessionID, req.SessionID).
		Str("state", string(state)).
		Msg("chat turn transition")
}

// DeleteSession removes every message of the session. Deleting an unknown
// session succeeds.
func (o *Orchestrator) DeleteSession(ctx context.Context, userID, sessionID string) error {
	unlock := o.locks.Lock(userID + "\x00" + sessionID)
	defer unlock()

	deleted, err := o.deps.History.DeleteSession(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	l := logging.Ctx(ctx)
	l.Info().
		Str(logging.FieldUserID, userID).
		Str(logging.FieldSessionID, sessionID).
		Int64("deleted", deleted).
		Msg("chat session deleted")
	return nil
}

// LoadSession warms the history cache for a session about to become active.
func (o *Orchestrator) LoadSession(ctx context.Context, userID, sessionID string) error {
	if _, err := o.deps.History.History(ctx, userID, sessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
