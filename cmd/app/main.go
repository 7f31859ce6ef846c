package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tanpatsu/internal/api"
	"tanpatsu/internal/auth"
	"tanpatsu/internal/chat"
	"tanpatsu/internal/config"
	"tanpatsu/internal/httpserver"
	"tanpatsu/internal/llm"
	"tanpatsu/internal/telegram"
	"tanpatsu/internal/transport"
	"tanpatsu/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)

	httpClient := transport.NewHTTPClient(cfg.RequestTimeout)

	// Без клиента модели сервер всё равно поднимается: пользователь видит ошибку в чате.
	var completer chat.Completer
	llmClient, initErr := llm.NewOpenAIClient(cfg.OpenAI, httpClient, logger)
	if initErr != nil {
		logger.Error("completion client unavailable", slog.String("error", initErr.Error()))
	} else {
		completer = llmClient
	}

	var store auth.Store
	switch strings.ToLower(cfg.AuthStoreType) {
	case "memory":
		store = auth.NewMemoryStore()
	default:
		fileStore, err := auth.NewFileStore(cfg.AuthStorePath, logger)
		if err != nil {
			log.Fatalf("failed to init file store: %v", err)
		}
		store = fileStore
	}
	authService := auth.NewService(cfg.AppPassword, cfg.SessionTTL, store)

	composer := chat.NewComposer(chat.DefaultPersona())
	sessions := chat.NewRegistry(cfg.ConversationTTL, func(sessionID string) *chat.Controller {
		return chat.NewController(chat.ControllerConfig{
			Client:    completer,
			Composer:  composer,
			Logger:    logger,
			SessionID: sessionID,
		})
	})

	apiHandler := api.NewHandler(api.Deps{
		Auth:        authService,
		Sessions:    sessions,
		Logger:      logger,
		Unavailable: initErr,
	})

	var webhookHandler http.Handler
	if cfg.Telegram.BotToken != "" {
		webhookHandler = telegram.NewWebhookHandler(telegram.WebhookDeps{
			Auth:          authService,
			Sessions:      sessions,
			Bot:           telegram.NewClient(cfg.Telegram, transport.NewAPIClient(cfg.RequestTimeout)),
			Logger:        logger,
			WebhookSecret: cfg.Telegram.WebhookSecret,
			Unavailable:   initErr,
		})
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Logger:          logger,
		API:             apiHandler.Routes(),
		Page:            web.Handler(),
		TelegramHandler: webhookHandler,
	})

	// WriteTimeout не задан: ответ модели идёт через долгоживущий websocket.
	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sessions.RunJanitor(ctx, time.Minute, logger)
	go authService.RunJanitor(ctx, time.Minute, logger)

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.HTTPAddr), slog.String("model", cfg.OpenAI.Model))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	slogLevel := slog.LevelInfo
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
