package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"chat-relay/internal/auth"
	"chat-relay/internal/blob"
	"chat-relay/internal/bot"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/handlers"
	"chat-relay/internal/registry"
	"chat-relay/internal/ws"
	"chat-relay/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(context.Background()); err != nil {
		logger.Fatal("Failed to initialize schema: %v", err)
	}

	// Initialize upload store
	blobs, err := blob.NewStore(cfg.Upload.Dir)
	if err != nil {
		logger.Fatal("Failed to initialize upload store: %v", err)
	}

	// Initialize services
	authService := auth.NewService(db, cfg)
	reg := registry.New()
	bcast := ws.NewBroadcaster(reg)

	var responder ws.BotResponder
	if cfg.Bot.APIKey != "" {
		responder = bot.New(cfg.Bot, db, bcast)
	} else {
		logger.Info("DEEPSEEK_API_KEY not set, @DeepSeek replies disabled")
	}

	gateway := ws.NewGateway(reg, bcast, db, authService, responder, ws.GatewayConfig{
		VerifyTimeout: cfg.Auth.VerifyTimeout,
		MentionToken:  cfg.Bot.MentionToken,
	})

	// Initialize handlers
	apiHandlers := handlers.NewAPIHandlers(db, blobs)
	authHandlers := handlers.NewAuthHandlers(authService)
	wsHandlers := handlers.NewWebSocketHandlers(gateway)

	router := handlers.NewRouter(apiHandlers, authHandlers, wsHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	printAPIEndpoints()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")
	server.Shutdown(context.Background())
}

func printAPIEndpoints() {
	logger.Info("API endpoints:")
	logger.Info("   POST /register")
	logger.Info("   POST /login")
	logger.Info("   GET  /history?roomId&limit&beforeTimestamp")
	logger.Info("   GET  /search?roomId&q")
	logger.Info("   POST /upload?filename=<name>")
	logger.Info("   GET  /uploads/{name}")
	logger.Info("   GET  /healthz")
}
