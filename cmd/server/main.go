package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/cleanup"
	"github.com/codebuildervaibhav/video-summarizer/internal/config"
	"github.com/codebuildervaibhav/video-summarizer/internal/handlers"
	"github.com/codebuildervaibhav/video-summarizer/internal/llm"
	"github.com/codebuildervaibhav/video-summarizer/internal/logging"
	"github.com/codebuildervaibhav/video-summarizer/internal/media"
	"github.com/codebuildervaibhav/video-summarizer/internal/pipeline"
	"github.com/codebuildervaibhav/video-summarizer/internal/queue"
	"github.com/codebuildervaibhav/video-summarizer/internal/storage"
	"github.com/codebuildervaibhav/video-summarizer/internal/summarize"
	"github.com/codebuildervaibhav/video-summarizer/internal/transcription"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log, logBuffer := logging.New(cfg.Logging)

	// Ensure directories exist
	if err := cleanup.EnsureDirs(cfg.Storage.ScratchDir, cfg.Storage.UploadDir); err != nil {
		log.Fatalf("Failed to create storage directories: %v", err)
	}

	log.Info("Initializing components...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job queue: Redis when reachable, in-process otherwise
	jobs := queue.Select(ctx, queue.SelectOptions{
		Addr:           cfg.RedisAddr(),
		Password:       cfg.Queue.Redis.Password,
		DB:             cfg.Queue.Redis.DB,
		ConnectTimeout: cfg.Queue.ConnectTimeout,
		Redis: queue.RedisOptions{
			Name:                  cfg.Queue.Name,
			Attempts:              cfg.Queue.Attempts,
			Backoff:               cfg.Queue.Backoff,
			RemoveOnCompleteAge:   cfg.Queue.RemoveOnCompleteAge,
			RemoveOnCompleteCount: cfg.Queue.RemoveOnCompleteCount,
			RemoveOnFailAge:       cfg.Queue.RemoveOnFailAge,
			LockDuration:          cfg.Queue.LockDuration,
		},
	}, log)

	openaiClient := llm.New(cfg.OpenAI, log)
	resolver := media.NewResolver(cfg.Tools, cfg.Storage.ScratchDir, log)

	deps := pipeline.Deps{
		Credits:     openaiClient,
		Remote:      resolver,
		Extractor:   resolver,
		Transcriber: transcription.NewWhisperTranscriber(openaiClient, cfg.Transcription.MaxAudioMB, log),
		Summarizer:  summarize.NewSummarizer(openaiClient, cfg.Summarize.ChunkSizeWords, log),
	}

	// Google Drive export (optional - results stay in the job store either way)
	if cfg.GoogleDrive.Enabled {
		driveClient, err := storage.NewDriveClient(ctx, cfg.GoogleDrive.CredentialsFile, cfg.GoogleDrive.TokenFile)
		if err != nil {
			log.WithError(err).Warn("Google Drive export not available")
		} else {
			deps.Exporter = storage.NewDriveExporter(driveClient, cfg.GoogleDrive.FolderName, log)
			log.Info("Google Drive export enabled")
		}
	}

	processor := pipeline.NewProcessor(deps, cfg.MaxVideoDuration(), log)
	if err := jobs.Register(processor.Process); err != nil {
		log.Fatalf("Failed to register job processor: %v", err)
	}

	log.WithFields(logrus.Fields{
		"chunk_minutes": cfg.Transcription.ChunkMinutes,
		"max_audio_mb":  cfg.Transcription.MaxAudioMB,
	}).Info("Audio is transcribed whole; chunk_minutes is not applied yet")

	// Cleanup scheduler
	cleanupScheduler := cleanup.NewScheduler(
		[]string{cfg.Storage.ScratchDir, cfg.Storage.UploadDir},
		cfg.Cleanup.IntervalMinutes,
		cfg.Cleanup.MaxAgeHours,
		log,
	)
	cleanupScheduler.Start()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Limits.MaxUploadMB * 1024 * 1024,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        cfg.Limits.RateLimitRequests,
		Expiration: time.Duration(cfg.Limits.RateLimitWindowMinutes) * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
				"code":  "RATE_LIMITED",
			})
		},
	}))

	// Initialize handlers
	youtubeHandler := handlers.NewYouTubeHandler(jobs, openaiClient, resolver, cfg.MaxVideoDuration(), log)
	uploadHandler := handlers.NewUploadHandler(jobs, openaiClient, cfg.Storage.UploadDir, cfg.Limits.MaxUploadMB, log)
	gdriveHandler := handlers.NewGDriveHandler(jobs, openaiClient, cfg.Storage.UploadDir, cfg.Limits.MaxUploadMB,
		cfg.Tools.DownloadTimeout, log)
	statusHandler := handlers.NewStatusHandler(jobs, log)
	streamHandler := handlers.NewStreamHandler(jobs, time.Second, log)

	// Routes
	app.Get("/", handlers.Health(jobs))
	app.Get("/logs", handlers.Logs(logBuffer))

	api.Post("/summarize", youtubeHandler.Handle)
	api.Post("/upload", uploadHandler.Handle)
	api.Post("/gdrive", gdriveHandler.Handle)
	api.Get("/status/:jobId", statusHandler.Handle)

	// WebSocket route
	app.Use("/ws", handlers.Upgrade)
	app.Get("/ws/status/:jobId", websocket.New(streamHandler.Handle))

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.WithFields(logrus.Fields{
		"addr":          addr,
		"queue_backend": jobs.Backend(),
		"max_duration":  cfg.MaxVideoDuration(),
	}).Info("Server starting")
	log.Info("Endpoints:")
	log.Info("   POST /api/summarize      - Summarize a YouTube video")
	log.Info("   POST /api/upload         - Summarize an uploaded video file")
	log.Info("   POST /api/gdrive         - Summarize a shared Google Drive video")
	log.Info("   GET  /api/status/:jobId  - Job status")
	log.Info("   GET  /ws/status/:jobId   - Live job status (WebSocket)")
	log.Info("   GET  /logs               - View server logs")
	log.Info("   GET  /                   - Health check")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Warn("HTTP shutdown did not complete cleanly")
		}
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	cleanupScheduler.Stop()
	if err := jobs.Close(); err != nil {
		log.WithError(err).Warn("Failed to close job queue")
	}
	log.Info("Shutdown complete")
}
