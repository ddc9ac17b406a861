package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"qrguard/internal/config"
	handlers "qrguard/internal/handlers/shared"
	"qrguard/internal/middleware"
	"qrguard/internal/repositories/mongodb"
	"qrguard/internal/services"
	"qrguard/pkg/cache"
	"qrguard/pkg/database"
	applogger "qrguard/pkg/logger"
	"qrguard/pkg/websocket"
	"qrguard/routes"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logr, err := applogger.NewLogger(&applogger.Config{
		Level:   applogger.LogLevel(cfg.App.LogLevel),
		Format:  "json",
		Output:  "stdout",
		AppName: cfg.App.Name,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	mongoDB, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		logr.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close()

	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureChatIndexes(indexCtx, mongoDB.Database, cfg.Chat.Retention); err != nil {
		cancelIndex()
		logr.Fatalf("Failed to ensure chat indexes: %v", err)
	}
	cancelIndex()

	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logr.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	// Realtime fanout hub; the chat service broadcasts through it and its
	// clients mutate through the chat service.
	wsHandler := websocket.NewHandler(cfg.WebSocket, logr)
	defer wsHandler.Close()

	chatRepo := mongodb.NewChatRepository(mongoDB.Database, redisCache)
	chatService := services.NewChatService(cfg.Chat, chatRepo, redisCache, wsHandler, logr)
	wsHandler.AttachChatService(chatService)

	expiryService := services.NewExpiryService(cfg.Chat, chatService, logr)
	if err := expiryService.Start(); err != nil {
		logr.Fatalf("Failed to start expiry watchdog: %v", err)
	}
	defer expiryService.Stop()

	chatHandler := handlers.NewChatHandler(chatService)

	if config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg.App.CORSOrigins))
	router.Use(middleware.RequestIDMiddleware())

	v1 := router.Group("/api/v1")
	{
		routes.SetupChatRoutes(v1, chatHandler)
	}

	router.GET(cfg.WebSocket.Path, wsHandler.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		dbStatus := "connected"
		if err := mongoDB.Ping(); err != nil {
			dbStatus = "disconnected"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"version":  cfg.App.Version,
			"database": dbStatus,
		})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Infof("Starting server on port %d", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logr.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Errorf("Graceful shutdown failed: %v", err)
	}
}
