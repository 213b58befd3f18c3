package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"heartpsalm/backend/internal/chat"
	"heartpsalm/backend/internal/logging"
)

const (
	headerIdempotencyKey = "Idempotency-Key"

	emptyMessageError = "Message cannot be empty"
	saveFailedError   = "Failed to save chat message. Please try again."
)

// chatMessageRequest accepts the browser form field as well as a JSON body.
type chatMessageRequest struct {
	UserFeeling string `form:"user_feeling" json:"user_feeling"`
	Message     string `form:"message" json:"message"`
}

func (r chatMessageRequest) text() string {
	if strings.TrimSpace(r.UserFeeling) != "" {
		return r.UserFeeling
	}
	return r.Message
}

type chatPageResponse struct {
	chat.View
	Username string  `json:"username"`
	Flashes  []flash `json:"flashes"`
}

// ensureActiveSession returns the active chat session, allocating one when
// the auth cookie carries none.
func (a *App) ensureActiveSession(c *gin.Context, userID string) (string, error) {
	if sid := activeSession(c); sid != "" {
		return sid, nil
	}
	sid := a.chat.StartSession()
	if err := a.setActiveSession(c, userID, sid); err != nil {
		return "", err
	}
	return sid, nil
}

func (a *App) chatPage(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	sid, err := a.ensureActiveSession(c, user.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to start chat session")
		return
	}

	view, err := a.chat.View(c.Request.Context(), user.ID, sid)
	if err != nil {
		l := logging.Ctx(c.Request.Context())
		l.Error().Err(err).Str(logging.FieldSessionID, sid).Msg("failed to load chat view")
		writeError(c, http.StatusInternalServerError, "Failed to load chat history")
		return
	}

	c.JSON(http.StatusOK, chatPageResponse{
		View:     view,
		Username: user.Username,
		Flashes:  a.popFlashes(c),
	})
}

func (a *App) postChatMessage(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req chatMessageRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	text := req.text()
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": emptyMessageError})
		return
	}

	sid, err := a.ensureActiveSession(c, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start chat session"})
		return
	}

	turn, err := a.chat.HandleMessage(c.Request.Context(), chat.TurnRequest{
		UserID:         user.ID,
		SessionID:      sid,
		Text:           text,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(headerIdempotencyKey)),
	})
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": emptyMessageError})
		return
	case err != nil:
		l := logging.Ctx(c.Request.Context())
		l.Error().Err(err).Str(logging.FieldSessionID, sid).Msg("chat turn failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": saveFailedError})
		return
	}
	c.JSON(http.StatusOK, turn)
}

// newChat switches to a fresh session. A POST with a message runs it as the
// first turn of that session; a POST without one keeps the current session.
func (a *App) newChat(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	var text string
	if c.Request.Method == http.MethodPost {
		var req chatMessageRequest
		if err := c.ShouldBind(&req); err != nil {
			writeError(c, http.StatusBadRequest, "Invalid request payload")
			return
		}
		text = strings.TrimSpace(req.text())
		if text == "" {
			c.Redirect(http.StatusFound, "/chat")
			return
		}
	}

	sid := a.chat.StartSession()
	if err := a.setActiveSession(c, user.ID, sid); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to start chat session")
		return
	}

	if text != "" {
		_, err := a.chat.HandleMessage(c.Request.Context(), chat.TurnRequest{
			UserID:    user.ID,
			SessionID: sid,
			Text:      text,
		})
		if err != nil {
			l := logging.Ctx(c.Request.Context())
			l.Error().Err(err).Str(logging.FieldSessionID, sid).Msg("first turn of new chat failed")
			a.addFlash(c, flashDanger, saveFailedError)
		}
	}
	c.Redirect(http.StatusFound, "/chat")
}

func (a *App) loadChats(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	sessions, err := a.chat.Sessions(c.Request.Context(), user.ID, activeSession(c))
	if err != nil {
		l := logging.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("failed to list chat sessions")
		writeError(c, http.StatusInternalServerError, "Failed to load chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat_files": sessions,
		"flashes":    a.popFlashes(c),
	})
}

func (a *App) loadChat(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	sid := strings.TrimSpace(c.Param("session_id"))
	if sid == "" {
		writeError(c, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := a.chat.LoadSession(c.Request.Context(), user.ID, sid); err != nil {
		l := logging.Ctx(c.Request.Context())
		l.Error().Err(err).Str(logging.FieldSessionID, sid).Msg("failed to load chat session")
		a.addFlash(c, flashError, "Error loading chat")
		c.Redirect(http.StatusFound, "/chat")
		return
	}
	if err := a.setActiveSession(c, user.ID, sid); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to switch chat session")
		return
	}
	c.Redirect(http.StatusFound, "/chat")
}

func (a *App) deleteChat(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	sid := strings.TrimSpace(c.Param("session_id"))
	if sid == "" {
		writeError(c, http.StatusBadRequest, "session_id is required")
		return
	}

	if err := a.chat.DeleteSession(c.Request.Context(), user.ID, sid); err != nil {
		l := logging.Ctx(c.Request.Context())
		l.Error().Err(err).Str(logging.FieldSessionID, sid).Msg("failed to delete chat session")
		a.addFlash(c, flashError, "Error deleting chat: "+err.Error())
	} else {
		a.addFlash(c, flashSuccess, "Chat deleted successfully")
	}

	if activeSession(c) == sid {
		if err := a.setActiveSession(c, user.ID, ""); err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to reset chat session")
			return
		}
		c.Redirect(http.StatusFound, "/new_chat")
		return
	}
	c.Redirect(http.StatusFound, "/chat")
}
