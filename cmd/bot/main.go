package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voiceward/internal/config"
	"voiceward/internal/database"
	"voiceward/internal/handlers"
	"voiceward/internal/jobs"
	"voiceward/internal/logging"
	"voiceward/internal/platform"
	"voiceward/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting voiceward...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	if cfg.DiscordToken == "" {
		log.Fatal("❌ DISCORD_TOKEN environment variable is required")
	}
	if cfg.MongoURI == "" {
		log.Fatal("❌ MONGODB_URI environment variable is required")
	}

	mongoDB, err := database.NewMongoDB(cfg.MongoURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())

	if err := mongoDB.Initialize(context.Background()); err != nil {
		log.Fatalf("❌ Failed to initialize MongoDB: %v", err)
	}

	voiceStore := database.NewVoiceStore(mongoDB)
	settingsStore := database.NewSettingsStore(mongoDB)

	settingsService := services.NewSettingsService(settingsStore, cfg)
	trackerService := services.NewTrackerService(voiceStore, settingsService)
	truncationService := jobs.NewTruncationService(voiceStore, cfg)

	discord, err := platform.NewDiscord(cfg.DiscordToken)
	if err != nil {
		log.Fatalf("❌ Failed to create Discord session: %v", err)
	}

	channelService := services.NewChannelService(discord, settingsService)
	router := handlers.NewCommandRouter(trackerService, channelService, settingsService, truncationService, discord)

	discord.OnVoiceState(func(prev, next *platform.VoiceState) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		trackerService.HandleVoiceStateUpdate(ctx, prev, next)
		channelService.HandleVoiceStateUpdate(ctx, prev, next)
	})
	discord.OnMessage(router.HandleMessage)

	if err := discord.Start(); err != nil {
		log.Fatalf("❌ Failed to connect to Discord: %v", err)
	}
	defer discord.Stop()
	log.Println("✅ Discord connected")

	if err := channelService.Initialize(context.Background()); err != nil {
		log.Printf("⚠️  Channel initialization incomplete: %v", err)
	}
	if err := channelService.StartCleanup(cfg.EmptyChannelInterval); err != nil {
		log.Fatalf("❌ Failed to start channel cleanup: %v", err)
	}
	defer channelService.StopCleanup()

	if err := truncationService.Schedule(); err != nil {
		log.Fatalf("❌ Failed to schedule retention cleanup: %v", err)
	}
	defer truncationService.Stop()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())

	prometheus := fiberprometheus.New("voiceward")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	healthHandler := handlers.NewHealthHandler(trackerService, channelService)
	cleanupHandler := handlers.NewCleanupHandler(truncationService)
	statsHandler := handlers.NewStatsHandler(trackerService)

	app.Get("/health", healthHandler.Handle)
	app.Get("/api/cleanup/status", cleanupHandler.Status)
	app.Post("/api/cleanup/run", cleanupHandler.Run)
	app.Get("/api/guilds/:guildID/users/:userID/stats", statsHandler.UserStats)
	app.Get("/api/guilds/:guildID/top", statsHandler.TopUsers)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("❌ Admin server error: %v", err)
		}
	}()
	log.Printf("✅ Admin server listening on :%s", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down...")
	if err := app.Shutdown(); err != nil {
		log.Printf("⚠️  Admin server shutdown error: %v", err)
	}
	log.Println("✅ Shutdown complete")
}
