package handlers

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/media"
	"github.com/codebuildervaibhav/video-summarizer/internal/queue"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// UploadHandler handles video file uploads
type UploadHandler struct {
	queue     queue.Queue
	credits   CreditChecker
	uploadDir string
	maxSizeMB int
	logger    logrus.FieldLogger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(q queue.Queue, credits CreditChecker, uploadDir string, maxSizeMB int, logger logrus.FieldLogger) *UploadHandler {
	return &UploadHandler{
		queue:     q,
		credits:   credits,
		uploadDir: uploadDir,
		maxSizeMB: maxSizeMB,
		logger:    logger,
	}
}

// Handle processes the upload request. Uploads skip the duration gate.
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("video")
	if err != nil {
		return writeError(c, types.Errorf(types.KindValidation, types.CodeMissingFile, "No video file uploaded"), types.CodeMissingFile)
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return writeError(c, types.Errorf(types.KindValidation, types.CodeFileTooLarge,
			"File too large. Maximum file size is %dMB.", h.maxSizeMB), types.CodeFileTooLarge)
	}

	if err := media.ValidateVideoType(file.Header.Get("Content-Type")); err != nil {
		return writeError(c, err, types.CodeInvalidFileType)
	}

	ctx := c.UserContext()
	h.logger.Info("Checking OpenAI API credits")
	if err := h.credits.CheckCredits(ctx).Err(); err != nil {
		return writeError(c, err, types.CodeNoCredits)
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		h.logger.WithError(err).Error("Failed to create upload directory")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "SAVE_FAILED",
		})
	}

	jobID := uuid.New().String()
	savePath := filepath.Join(h.uploadDir, fmt.Sprintf("video-%s%s", jobID, filepath.Ext(file.Filename)))
	if err := c.SaveFile(file, savePath); err != nil {
		h.logger.WithError(err).Error("Failed to save uploaded file")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "SAVE_FAILED",
		})
	}

	return enqueueLocalVideo(c, h.queue, h.logger, jobID, savePath, file.Filename)
}

// enqueueLocalVideo creates an upload-branch job for a file already on disk.
// The file is removed when the job cannot be created.
func enqueueLocalVideo(c *fiber.Ctx, q queue.Queue, logger logrus.FieldLogger, jobID, path, title string) error {
	info := types.VideoInfo{Title: title}
	_, err := q.Enqueue(c.UserContext(), types.JobNameSummarizeVideo, queue.Payload{
		JobID:          jobID,
		LocalFilePath:  path,
		IsUploadedFile: true,
		VideoInfo:      info,
	}, queue.EnqueueOptions{JobID: jobID})
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.WithError(rmErr).WithField("path", path).Warn("Failed to clean up uploaded file")
		}
		logger.WithError(err).Error("Failed to create upload job")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error creating summarization job: " + err.Error(),
			"code":  "JOB_CREATION_ERROR",
		})
	}

	logger.WithFields(logrus.Fields{"job_id": jobID, "title": title}).Info("Job created for local video")
	return c.JSON(fiber.Map{
		"jobId":     jobID,
		"status":    "processing",
		"message":   "Video summarization job created. Use GET /api/status/:jobId to check progress.",
		"videoInfo": info,
	})
}
