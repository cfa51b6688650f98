package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/llm"
	"github.com/codebuildervaibhav/video-summarizer/internal/media"
	"github.com/codebuildervaibhav/video-summarizer/internal/queue"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// CreditChecker probes the completion API before a job is created
type CreditChecker interface {
	CheckCredits(ctx context.Context) llm.CreditStatus
}

// Prober fetches video metadata without downloading
type Prober interface {
	Probe(ctx context.Context, url string) (media.VideoMeta, error)
}

// YouTubeHandler creates summarization jobs for YouTube URLs
type YouTubeHandler struct {
	queue       queue.Queue
	credits     CreditChecker
	prober      Prober
	maxDuration time.Duration
	logger      logrus.FieldLogger
}

// NewYouTubeHandler creates a new YouTube handler
func NewYouTubeHandler(q queue.Queue, credits CreditChecker, prober Prober, maxDuration time.Duration, logger logrus.FieldLogger) *YouTubeHandler {
	return &YouTubeHandler{
		queue:       q,
		credits:     credits,
		prober:      prober,
		maxDuration: maxDuration,
		logger:      logger,
	}
}

// SummarizeRequest represents the request body
type SummarizeRequest struct {
	URL string `json:"url"`
}

// Handle validates the URL, runs the credits and duration gates and
// enqueues the job. The response returns before any download starts.
func (h *YouTubeHandler) Handle(c *fiber.Ctx) error {
	var req SummarizeRequest
	if err := c.BodyParser(&req); err != nil {
		req.URL = ""
	}
	url := strings.TrimSpace(req.URL)

	if err := media.ValidateYouTubeURL(url); err != nil {
		return writeError(c, err, types.CodeInvalidURL)
	}

	ctx := c.UserContext()
	h.logger.Info("Checking OpenAI API credits")
	if err := h.credits.CheckCredits(ctx).Err(); err != nil {
		return writeError(c, err, types.CodeNoCredits)
	}

	h.logger.WithField("url", url).Info("Checking video duration")
	meta, err := h.prober.Probe(ctx, url)
	if err != nil {
		return writeError(c, err, types.CodeVideoInfo)
	}

	minutes := types.DurationMinutes(meta.DurationSeconds)
	maxMinutes := int(h.maxDuration.Minutes())
	if meta.DurationSeconds > h.maxDuration.Seconds() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Video is too long (%d minutes). Maximum supported duration is %d minutes.",
				minutes, maxMinutes),
			"code":        types.CodeVideoTooLong,
			"duration":    minutes,
			"maxDuration": maxMinutes,
			"videoTitle":  meta.Title,
		})
	}

	jobID := uuid.New().String()
	info := types.VideoInfo{Title: meta.Title, Duration: types.IntPtr(minutes)}
	if _, err := h.queue.Enqueue(ctx, types.JobNameSummarizeVideo, queue.Payload{
		JobID:     jobID,
		SourceURL: url,
		VideoInfo: info,
	}, queue.EnqueueOptions{JobID: jobID}); err != nil {
		h.logger.WithError(err).Error("Failed to create job")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error creating summarization job: " + err.Error(),
			"code":  "JOB_CREATION_ERROR",
		})
	}

	h.logger.WithFields(logrus.Fields{"job_id": jobID, "title": meta.Title}).Info("Job created")
	return c.JSON(fiber.Map{
		"jobId":     jobID,
		"status":    "processing",
		"message":   "Video summarization job created. Use GET /api/status/:jobId to check progress.",
		"videoInfo": info,
	})
}
