package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"heartpsalm/backend/internal/auth"
	"heartpsalm/backend/internal/chat"
	"heartpsalm/backend/internal/config"
	"heartpsalm/backend/internal/logging"
	"heartpsalm/backend/internal/store"
)

const (
	ctxAuthUser    = "authUser"
	ctxChatSession = "chatSession"

	loginRequiredMessage = "Please log in to access this page."
)

type Deps struct {
	Auth   *auth.Service
	Tokens *auth.TokenManager
	Chat   *chat.Orchestrator
	Logger zerolog.Logger
}

type App struct {
	cfg    config.Config
	auth   *auth.Service
	tokens *auth.TokenManager
	chat   *chat.Orchestrator
	logger zerolog.Logger
}

func New(cfg config.Config, deps Deps) *App {
	return &App{
		cfg:    cfg,
		auth:   deps.Auth,
		tokens: deps.Tokens,
		chat:   deps.Chat,
		logger: deps.Logger,
	}
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(a.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)
	router.GET("/", a.home)
	router.GET("/home", a.home)
	router.GET("/register", a.registerPage)
	router.POST("/register", a.register)
	router.GET("/login", a.loginPage)
	router.POST("/login", a.login)
	router.GET("/logout", a.logout)

	chats := router.Group("/")
	chats.Use(a.requireLogin())

	chats.GET("/chat", a.chatPage)
	chats.POST("/chat", a.postChatMessage)
	chats.GET("/new_chat", a.newChat)
	chats.POST("/new_chat", a.newChat)
	chats.GET("/load_chats", a.loadChats)
	chats.GET("/load_chat/:session_id", a.loadChat)
	chats.GET("/delete_chat/:session_id", a.deleteChat)
	chats.POST("/delete_chat/:session_id", a.deleteChat)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "heartpsalm-api",
	})
}

var errNotSignedIn = errors.New("not signed in")

// currentUser resolves the signed-in user from the auth cookie. A missing,
// invalid or orphaned token yields errNotSignedIn.
func (a *App) currentUser(c *gin.Context) (store.User, auth.Claims, error) {
	raw, err := c.Cookie(a.cfg.SessionCookieName)
	if err != nil || raw == "" {
		return store.User{}, auth.Claims{}, errNotSignedIn
	}
	claims, err := a.tokens.Parse(raw)
	if err != nil {
		return store.User{}, auth.Claims{}, errNotSignedIn
	}
	user, err := a.auth.User(c.Request.Context(), claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, auth.Claims{}, errNotSignedIn
	}
	if err != nil {
		return store.User{}, auth.Claims{}, err
	}
	return user, claims, nil
}

func (a *App) requireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, claims, err := a.currentUser(c)
		if errors.Is(err, errNotSignedIn) {
			a.clearAuthCookie(c)
			a.addFlash(c, flashInfo, loginRequiredMessage)
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}
		if err != nil {
			l := logging.Ctx(c.Request.Context())
			l.Error().Err(err).Msg("failed to load signed-in user")
			writeError(c, http.StatusInternalServerError, "Failed to load user")
			return
		}

		c.Set(ctxAuthUser, user)
		c.Set(ctxChatSession, claims.SessionID)
		c.Set(logging.FieldUserID, user.ID)

		l := logging.Ctx(c.Request.Context())
		scoped := l.With().Str(logging.FieldUserID, user.ID).Logger()
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), scoped))
		c.Next()
	}
}

func authUserFromContext(c *gin.Context) (store.User, bool) {
	raw, ok := c.Get(ctxAuthUser)
	if !ok {
		return store.User{}, false
	}
	user, ok := raw.(store.User)
	return user, ok
}

func activeSession(c *gin.Context) string {
	return c.GetString(ctxChatSession)
}

// setActiveSession reissues the auth cookie pointing at sessionID. An empty
// sessionID clears the pointer.
func (a *App) setActiveSession(c *gin.Context, userID, sessionID string) error {
	if err := a.issueAuthCookie(c, userID, sessionID); err != nil {
		return err
	}
	c.Set(ctxChatSession, sessionID)
	return nil
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
