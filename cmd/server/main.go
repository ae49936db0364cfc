package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ava-backend/internal/config"
	"ava-backend/internal/database"
	"ava-backend/internal/handlers"
	"ava-backend/internal/middleware"
	"ava-backend/internal/repository"
	"ava-backend/internal/router"
	"ava-backend/internal/services"
	"ava-backend/internal/websocket"
	"ava-backend/internal/worker"
	"ava-backend/migrations"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	config.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("env", cfg.Env).Str("llm_provider", cfg.LLMProvider).Msg("starting ava backend")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	log.Info().Msg("postgres connected, migrations applied")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClients.Close()
	log.Info().Msg("redis connected")

	// ──── Initialize Repositories ────
	projectRepo := repository.NewProjectRepo(pool)
	sessionRepo := repository.NewSessionRepo(pool)
	jobRepo := repository.NewJobRepo(pool)

	// ──── Step 4: Initialize Chat Completion ────
	chatModel, closeChat, err := services.NewChatModel(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("chat model initialization failed")
	}
	defer closeChat()
	chatService := services.NewChatService(chatModel)

	liveChat := chatService
	if cfg.LLMProvider == config.ProviderTemplate {
		liveChat = nil
	}

	// ──── Initialize Services ────
	speechService := services.NewSpeechService(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID)
	proxyService := services.NewProxyService(cfg.PublicBaseURL + "/observer.js")
	tokens := middleware.NewSessionTokens(cfg.SessionTokenSecret, cfg.SessionTokenTTL)
	updates := services.NewRedisUpdates(redisClients.PubSub)
	queue := worker.NewQueue(redisClients.Queue, jobRepo)

	liveSessions := services.NewLiveSessions(services.LiveConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		Projects:      projectRepo,
		Tokens:        tokens,
		Queue:         queue,
		Updates:       updates,
		Voice:         speechService,
		Chat:          liveChat,
	})

	reaper := services.NewSessionReaper(liveSessions, cfg.LiveIdleTimeout)
	reaper.Start()

	// ──── Step 5: Start Job Worker Pool ────
	workerPool := worker.NewPool(
		redisClients.Queue,
		jobRepo,
		sessionRepo,
		chatService,
		updates,
		cfg.WorkerCount,
	)
	workerPool.Start()
	log.Info().Int("workers", cfg.WorkerCount).Msg("worker pool started")

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, tokens, liveSessions)

	// ──── Initialize Handlers ────
	assistHandler := handlers.NewAssistHandler(chatService, speechService, proxyService)
	sessionHandler := handlers.NewSessionHandler(sessionRepo, jobRepo, chatService)
	projectHandler := handlers.NewProjectHandler(projectRepo, sessionRepo)
	liveHandler := handlers.NewLiveHandler(liveSessions)

	// ──── Step 7: Start HTTP Server ────
	r := router.New(
		ctx,
		router.Options{
			FrontendURL:        cfg.FrontendURL,
			AdminPassword:      cfg.AdminPassword,
			AdminPasswordHash:  cfg.AdminPasswordHash,
			RateLimitPerSecond: cfg.RateLimitPerSecond,
			RateLimitBurst:     cfg.RateLimitBurst,
		},
		tokens,
		assistHandler,
		sessionHandler,
		projectHandler,
		liveHandler,
		wsHub.HandleWebSocket,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")
		reaper.Stop()
		wsHub.Shutdown()
		liveSessions.Shutdown()
		workerPool.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown")
		}
		cancel()
	}()

	log.Info().
		Str("addr", server.Addr).
		Str("api", cfg.PublicBaseURL+"/api/v1").
		Msg("ava backend ready")

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
