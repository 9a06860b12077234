package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flux/config"
	"flux/handlers"
	"flux/metrics"
	"flux/middleware"
	"flux/services"
)

func main() {
	// 1. Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("=== Configuration ===")
	log.Printf("Server: %s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("MongoDB: %s (enabled: %v)", cfg.MongoDB.Database, cfg.MongoDB.Enabled)
	log.Printf("Redis: %s (enabled: %v)", cfg.Redis.Address, cfg.Redis.Enabled)
	log.Printf("Rollup deadline: %s, max entity metrics: %d", cfg.RollupDeadline(), cfg.Rollup.MaxEntityMetrics)

	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	// 2. Storage
	mongoService, err := services.NewMongoDBService(cfg)
	if err != nil {
		log.Fatalf("Invalid MongoDB configuration: %v", err)
	}

	cache := services.NewLatestSnapshotCache(cfg)
	cache.StartHealthCheck()
	log.Printf("✓ Snapshot cache ready (mode: %s)", cache.GetCacheMode())

	// 3. Notifications
	var notifier services.RollupNotifier
	var discord *services.DiscordNotifier
	if cfg.DiscordEnabled() {
		discord, err = services.NewDiscordNotifier(cfg.Discord.Token, cfg.Discord.ChannelID)
		if err != nil {
			log.Printf("⚠️  Discord bot initialization failed: %v", err)
			log.Println("Discord notifications will be disabled")
			discord = nil
		} else {
			notifier = discord
			log.Println("✓ Discord Bot connected")
		}
	} else {
		log.Println("Discord token or channel not set, notifications disabled")
	}

	// 4. Rollup pipeline
	builder := services.NewSnapshotBuilder(mongoService, mongoService, cfg.Rollup.MaxEntityMetrics)
	query := services.NewQueryService(mongoService, cache)
	scheduler := services.NewRollupScheduler(builder, cache, notifier, services.SchedulerOptions{
		Deadline:         cfg.RollupDeadline(),
		FailureThreshold: cfg.Discord.FailureThreshold,
	})
	if discord != nil {
		discord.SetStatusProvider(scheduler.StatusText)
	}

	log.Println("=== Starting Rollups ===")
	if !mongoService.Enabled() {
		log.Println("⚠️  MongoDB disabled, every rollup will fail until it is enabled")
	}
	scheduler.Start(context.Background())
	log.Println("✓ Rollup scheduler started")

	// 5. Web Server Setup
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.LoggerMiddleware("/health", cfg.Metrics.Path))
	e.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	e.Use(middleware.RecoverMiddleware())

	h := handlers.NewHandler(cfg, mongoService, cache, scheduler)
	metricsHandlers := handlers.NewMetricsHandlers(query, cfg.QueryTimeout())
	cacheHandlers := handlers.NewCacheHandlers(cache)
	handlers.RegisterRoutes(e, h, metricsHandlers, cacheHandlers)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.Handler()))
		log.Printf("✓ Prometheus metrics at %s", cfg.Metrics.Path)
	}

	// 6. Start HTTP Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	go func() {
		log.Printf("🚀 Server running on http://%s", serverAddr)
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("shutting down the server: %v", err)
		}
	}()

	// 7. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Graceful shutdown initiated...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	log.Println("Stopping services...")
	scheduler.Stop()
	cache.Stop()
	if discord != nil {
		discord.Close()
	}
	if err := mongoService.Close(); err != nil {
		log.Printf("MongoDB disconnect: %v", err)
	}
	log.Println("✓ Server exited cleanly")
}
