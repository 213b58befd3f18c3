package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"heartpsalm/backend/internal/ai"
	"heartpsalm/backend/internal/auth"
	"heartpsalm/backend/internal/cache"
	"heartpsalm/backend/internal/chat"
	"heartpsalm/backend/internal/config"
	"heartpsalm/backend/internal/db"
	"heartpsalm/backend/internal/logging"
	"heartpsalm/backend/internal/music"
	"heartpsalm/backend/internal/server"
	"heartpsalm/backend/internal/store"
	"heartpsalm/backend/internal/store/memstore"
)

func main() {
	cfg := config.Load()
	logging.Init(logging.Config{
		Level:       cfg.LogLevel,
		Pretty:      cfg.LogPretty,
		ServiceName: "heartpsalm-api",
	})
	logger := logging.L()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	repo, closeRepo := openRepository(ctx, cfg)
	defer closeRepo()

	if err := repo.SeedInstructions(ctx, store.DefaultInstructions); err != nil {
		logger.Fatal().Err(err).Msg("seeding chat instructions failed")
	}

	c, err := cache.New(cfg.CacheType, cache.RedisConfig{
		Address:  cfg.CacheRedisAddr(),
		Password: cfg.CacheRedisPassword,
		DB:       cfg.CacheRedisDB,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("cache_type", cfg.CacheType).Msg("cache init failed")
	}
	defer c.Close()

	model, err := ai.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.AIProvider).Msg("ai client init failed")
	}

	spotify := music.NewSpotifyClient(music.SpotifyConfig{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		APIBaseURL:   cfg.SpotifyAPIBaseURL,
		AuthURL:      cfg.SpotifyAuthURL,
		Timeout:      cfg.ExternalCallTimeoutDuration(),
	})
	if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" {
		logger.Warn().Msg("SPOTIPY_CLIENT_ID/SPOTIPY_CLIENT_SECRET not set; song searches will fail")
	}

	orchestrator := chat.NewOrchestrator(chat.Deps{
		History:      store.NewHistoryStore(repo, c, cfg.CacheTTL(), cfg.CacheKeyPrefix),
		Instructions: repo,
		Classifier:   chat.NewClassifier(model),
		Songs:        music.NewRecommender(spotify, cfg.SongSearchLimit),
		Responder:    chat.NewResponder(model),
		Cache:        c,
	}, chat.Options{
		CallTimeout:    cfg.ExternalCallTimeoutDuration(),
		IdempotencyTTL: cfg.CacheTTL(),
		KeyPrefix:      cfg.CacheKeyPrefix,
	})

	app := server.New(cfg, server.Deps{
		Auth:   auth.NewService(repo),
		Tokens: auth.NewTokenManager(cfg.SecretKey, cfg.AppName, cfg.SessionTTL()),
		Chat:   orchestrator,
		Logger: logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", "http://localhost:"+cfg.AppPort).Msg("heartpsalm api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// openRepository returns the configured store and its cleanup. The memory
// driver keeps everything in process and is meant for local runs.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func()) {
	logger := logging.L()
	if cfg.DBDriver == "memory" {
		logger.Warn().Msg("DB_DRIVER=memory; chats are lost on restart")
		return memstore.New(), func() {}
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("database migration failed")
		}
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connect failed")
	}
	if err := db.ValidateSchema(ctx, pool); err != nil {
		pool.Close()
		logger.Fatal().Err(err).Msg("database schema mismatch")
	}
	return store.NewPostgresRepository(pool), pool.Close
}
