package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/video-summarizer/internal/queue"
)

// Version is reported by the health route
const Version = "1.0.0"

// Health reports service status and the live queue backend
func Health(q queue.Queue) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "Video Summarizer API is running",
			"version": Version,
			"queue":   q.Backend(),
			"endpoints": fiber.Map{
				"summarize": "POST /api/summarize",
				"upload":    "POST /api/upload",
				"gdrive":    "POST /api/gdrive",
				"status":    "GET /api/status/:jobId",
				"stream":    "GET /ws/status/:jobId",
				"logs":      "GET /logs",
			},
		})
	}
}

// LogSource exposes recent log lines
type LogSource interface {
	Lines() []string
}

// Logs returns the server's recent log lines
func Logs(src LogSource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": src.Lines(),
		})
	}
}
