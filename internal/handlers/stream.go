package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/queue"
)

// StreamHandler pushes job status over a WebSocket until the job is terminal
type StreamHandler struct {
	queue    queue.Queue
	interval time.Duration
	logger   logrus.FieldLogger
}

// NewStreamHandler creates a new stream handler. interval is how often the
// job store is polled for changes.
func NewStreamHandler(q queue.Queue, interval time.Duration, logger logrus.FieldLogger) *StreamHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &StreamHandler{queue: q, interval: interval, logger: logger}
}

// Upgrade rejects plain HTTP requests on the stream route
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle processes WebSocket connections
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	jobID := c.Params("jobId")
	log := h.logger.WithField("job_id", jobID)
	log.Debug("Status stream opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last *StatusResponse
	for {
		job, ok, err := h.queue.Fetch(ctx, jobID)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				log.WithError(err).Warn("Status stream fetch failed")
			}
			return
		case !ok:
			_ = c.WriteJSON(fiber.Map{
				"error": "Job not found",
				"code":  "JOB_NOT_FOUND",
			})
			return
		}

		status := BuildStatus(job)
		if last == nil || !sameStatus(*last, status) {
			if err := c.WriteJSON(status); err != nil {
				log.WithError(err).Debug("Status stream write failed")
				return
			}
			last = &status
		}
		if job.State.Terminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sameStatus(a, b StatusResponse) bool {
	if a.Status != b.Status || a.Progress != b.Progress || a.Stage != b.Stage || a.Error != b.Error {
		return false
	}
	return a.Summary == b.Summary && a.Transcript == b.Transcript
}
