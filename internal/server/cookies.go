package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	flashCookieName = "heartpsalm_flash"
	flashMaxAge     = 60
	ctxFlashes      = "pendingFlashes"

	flashSuccess = "success"
	flashInfo    = "info"
	flashDanger  = "danger"
	flashError   = "error"
)

type flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

func (a *App) issueAuthCookie(c *gin.Context, userID, sessionID string) error {
	token, err := a.tokens.Issue(userID, sessionID)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(a.cfg.SessionCookieName, token, int(a.tokens.TTL().Seconds()), "/", "", a.cfg.CookieSecure, true)
	return nil
}

func (a *App) clearAuthCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(a.cfg.SessionCookieName, "", -1, "/", "", a.cfg.CookieSecure, true)
}

// addFlash queues a message for the next JSON view. Flashes already waiting
// in the request cookie are kept.
func (a *App) addFlash(c *gin.Context, category, message string) {
	flashes := append(pendingFlashes(c), flash{Category: category, Message: message})
	c.Set(ctxFlashes, flashes)

	encoded, err := encodeFlashes(flashes)
	if err != nil {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(flashCookieName, encoded, flashMaxAge, "/", "", a.cfg.CookieSecure, true)
}

// popFlashes returns the queued messages and clears the cookie.
func (a *App) popFlashes(c *gin.Context) []flash {
	flashes := pendingFlashes(c)
	c.Set(ctxFlashes, []flash{})
	if _, err := c.Cookie(flashCookieName); err == nil || len(flashes) > 0 {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(flashCookieName, "", -1, "/", "", a.cfg.CookieSecure, true)
	}
	return flashes
}

func pendingFlashes(c *gin.Context) []flash {
	if raw, ok := c.Get(ctxFlashes); ok {
		if flashes, ok := raw.([]flash); ok {
			return append([]flash{}, flashes...)
		}
	}
	cookie, err := c.Cookie(flashCookieName)
	if err != nil || cookie == "" {
		return []flash{}
	}
	flashes, err := decodeFlashes(cookie)
	if err != nil {
		return []flash{}
	}
	return flashes
}

func encodeFlashes(flashes []flash) (string, error) {
	raw, err := json.Marshal(flashes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeFlashes(value string) ([]flash, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	var flashes []flash
	if err := json.Unmarshal(raw, &flashes); err != nil {
		return nil, err
	}
	if flashes == nil {
		flashes = []flash{}
	}
	return flashes, nil
}
