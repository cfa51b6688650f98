package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/queue"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// StatusResponse is the job status document returned to polling clients
type StatusResponse struct {
	JobID      string           `json:"jobId"`
	Status     queue.State      `json:"status"`
	Progress   int              `json:"progress"`
	Stage      types.Stage      `json:"stage"`
	Summary    string           `json:"summary,omitempty"`
	Transcript string           `json:"transcript,omitempty"`
	VideoInfo  *types.VideoInfo `json:"videoInfo,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// BuildStatus renders a job snapshot. Result fields are only present on
// completed jobs and the failure reason only on failed ones.
func BuildStatus(job *queue.Job) StatusResponse {
	resp := StatusResponse{
		JobID:    job.ID,
		Status:   job.State,
		Progress: job.Progress.Percent,
		Stage:    job.Progress.Stage,
	}
	if resp.Stage == "" {
		resp.Stage = types.StagePending
	}

	switch job.State {
	case queue.StateCompleted:
		if job.Result != nil {
			resp.Summary = job.Result.Summary
			resp.Transcript = job.Result.Transcript
			info := job.Result.VideoInfo
			resp.VideoInfo = &info
		}
	case queue.StateFailed:
		resp.Error = job.FailureReason
		if resp.Error == "" {
			resp.Error = "Job failed"
		}
	}
	return resp
}

// StatusHandler serves GET /api/status/:jobId
type StatusHandler struct {
	queue  queue.Queue
	logger logrus.FieldLogger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(q queue.Queue, logger logrus.FieldLogger) *StatusHandler {
	return &StatusHandler{queue: q, logger: logger}
}

// Handle returns the status document, or 404 for unknown ids
func (h *StatusHandler) Handle(c *fiber.Ctx) error {
	jobID := c.Params("jobId")

	job, ok, err := h.queue.Fetch(c.UserContext(), jobID)
	if err != nil {
		h.logger.WithError(err).WithField("job_id", jobID).Error("Failed to fetch job status")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error getting job status: " + err.Error(),
			"code":  "STATUS_ERROR",
		})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Job not found",
			"code":    "JOB_NOT_FOUND",
			"message": "No job found with ID " + jobID,
		})
	}

	return c.JSON(BuildStatus(job))
}
