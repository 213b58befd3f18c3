package server

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"heartpsalm/backend/internal/auth"
	"heartpsalm/backend/internal/logging"
)

type loginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

func (a *App) home(c *gin.Context) {
	if _, _, err := a.currentUser(c); err == nil {
		c.Redirect(http.StatusFound, "/chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"app":     a.cfg.AppName,
		"flashes": a.popFlashes(c),
	})
}

func (a *App) registerPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"fields":  []string{"username", "email_address", "password1", "password2"},
		"flashes": a.popFlashes(c),
	})
}

func (a *App) register(c *gin.Context) {
	var in auth.RegisterInput
	if err := c.ShouldBind(&in); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	user, err := a.auth.Register(c.Request.Context(), in)
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		fields := make([]string, 0, len(verr.Fields))
		for field := range verr.Fields {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		flashes := make([]flash, 0, len(fields))
		for _, field := range fields {
			flashes = append(flashes, flash{
				Category: flashDanger,
				Message:  "There was an error creating a user: " + strings.Join(verr.Fields[field], " "),
			})
		}
		c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Fields, "flashes": flashes})
		return
	}
	if err != nil {
		l := logging.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("registration failed")
		writeError(c, http.StatusInternalServerError, "Failed to create user")
		return
	}

	if err := a.issueAuthCookie(c, user.ID, ""); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to sign in")
		return
	}
	a.addFlash(c, flashSuccess, "Account created successfully! You are now logged in as: "+user.Username)
	c.Redirect(http.StatusFound, "/chat")
}

func (a *App) loginPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"fields":  []string{"username", "password"},
		"flashes": a.popFlashes(c),
	})
}

// login starts a fresh auth session; any previously active chat session is
// dropped.
func (a *App) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	user, err := a.auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(c, http.StatusUnauthorized, auth.InvalidCredentialsMessage)
		return
	}
	if err != nil {
		l := logging.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("login failed")
		writeError(c, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	if err := a.issueAuthCookie(c, user.ID, ""); err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to sign in")
		return
	}
	a.addFlash(c, flashSuccess, "You logged in Successfully as: "+user.Username)
	c.Redirect(http.StatusFound, "/chat")
}

func (a *App) logout(c *gin.Context) {
	a.clearAuthCookie(c)
	a.addFlash(c, flashInfo, "You have logged out successfully!")
	c.Redirect(http.StatusFound, "/home")
}
