package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lpernett/godotenv"

	"github.com/campuslink-io/campuslink-chat/internal/application/services"
	"github.com/campuslink-io/campuslink-chat/internal/auth"
	"github.com/campuslink-io/campuslink-chat/internal/config"
	"github.com/campuslink-io/campuslink-chat/internal/infrastructure/database"
	"github.com/campuslink-io/campuslink-chat/internal/infrastructure/fanout"
	ws "github.com/campuslink-io/campuslink-chat/internal/infrastructure/websocket"
	"github.com/campuslink-io/campuslink-chat/internal/interfaces/api"
	"github.com/campuslink-io/campuslink-chat/internal/logger"
	"github.com/campuslink-io/campuslink-chat/internal/notify"
)

func main() {
	configFile := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.New("info").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	var registry fanout.Registry
	switch cfg.FanoutDriver {
	case config.FanoutDriverRedis:
		registry, err = fanout.NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Error("failed to connect fanout registry to redis", "error", err)
			os.Exit(1)
		}
	default:
		registry = fanout.NewLocalRegistry(log)
	}
	defer registry.Close()

	authenticator := auth.NewAuthenticator(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessExpiration, cfg.RefreshExpiration)
	conversationService := services.NewConversationService(db)
	chatService := services.NewChatService(db)
	trigger := notify.NewLogTrigger(log)

	wsDeps := &ws.Deps{
		ChatService:         chatService,
		ConversationService: conversationService,
		Registry:            registry,
		Notifier:            trigger,
		Log:                 log,
	}
	wsHandler := api.NewWebSocketHandler(authenticator, wsDeps, log)
	convHandler := api.NewConversationHandler(conversationService, chatService, log)
	router := api.NewRouter(authenticator, wsHandler, convHandler, log)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", server.Addr, "fanout", cfg.FanoutDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("server exited gracefully")
}
