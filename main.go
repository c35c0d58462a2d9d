package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chorus/presence/config"
	"chorus/presence/db"
	"chorus/presence/handlers"
	"chorus/presence/middleware"
	"chorus/presence/services"
	"chorus/presence/store"
	"chorus/presence/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger()

	// Connect to backends
	redisClient, err := store.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()

	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	// Initialize services
	presenceStore := store.NewPresenceStore(redisClient, database, logger, cfg.StaleAfter)
	dedupCache := services.NewDedupCache(cfg.CleanupDedupWindow)
	rateLimiter := middleware.NewRateLimiter()

	// Initialize handlers
	presenceHandler := handlers.NewPresenceHandler(presenceStore, logger)
	cleanupHandler := handlers.NewCleanupHandler(presenceStore, dedupCache, logger)
	watchHandler := handlers.NewWatchHandler(presenceStore, logger, cfg.WatchInterval)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	router.GET("/health", handlers.HealthCheck)

	presence := router.Group("/presence")
	{
		presence.POST("/start", presenceHandler.Start)
		presence.POST("/heartbeat", presenceHandler.Heartbeat)
		presence.POST("/status", presenceHandler.SetStatus)
		presence.POST("/stop", presenceHandler.Stop)
		presence.POST("/disconnect",
			middleware.RateLimit(rateLimiter, cfg.CleanupRateLimit, cfg.CleanupRateWindow),
			cleanupHandler.Disconnect)

		presence.GET("/status", presenceHandler.GetStatus)
		presence.GET("/online", presenceHandler.GetOnlineUsers)
		presence.GET("/watch", watchHandler.Watch)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting Presence Service", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
