package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/media"
	"github.com/codebuildervaibhav/video-summarizer/internal/queue"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

var (
	gdrivePathID  = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	gdriveQueryID = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	gdriveBareID  = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
)

// GDriveHandler imports a publicly shared Google Drive video and processes
// it like an upload
type GDriveHandler struct {
	queue       queue.Queue
	credits     CreditChecker
	client      *http.Client
	downloadURL func(fileID string) string
	uploadDir   string
	maxSizeMB   int
	timeout     time.Duration
	logger      logrus.FieldLogger
}

// NewGDriveHandler creates a new Google Drive handler. timeout bounds the
// whole download, body included.
func NewGDriveHandler(q queue.Queue, credits CreditChecker, uploadDir string, maxSizeMB int, timeout time.Duration, logger logrus.FieldLogger) *GDriveHandler {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &GDriveHandler{
		queue:   q,
		credits: credits,
		client:  http.DefaultClient,
		downloadURL: func(fileID string) string {
			return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", fileID)
		},
		uploadDir: uploadDir,
		maxSizeMB: maxSizeMB,
		timeout:   timeout,
		logger:    logger,
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL string `json:"url"`
}

// Handle downloads the shared file into the upload directory and enqueues it
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		return writeError(c, types.Errorf(types.KindValidation, types.CodeMissingURL, "Google Drive URL is required"), types.CodeMissingURL)
	}

	fileID := extractGDriveFileID(strings.TrimSpace(req.URL))
	if fileID == "" {
		return writeError(c, types.Errorf(types.KindValidation, types.CodeInvalidURL, "Invalid Google Drive URL"), types.CodeInvalidURL)
	}

	ctx := c.UserContext()
	if err := h.credits.CheckCredits(ctx).Err(); err != nil {
		return writeError(c, err, types.CodeNoCredits)
	}

	jobID := uuid.New().String()
	path, title, err := h.download(ctx, fileID, jobID)
	if err != nil {
		h.logger.WithError(err).WithField("file_id", fileID).Warn("Google Drive import failed")
		return writeError(c, err, types.CodeDownloadFailed)
	}

	return enqueueLocalVideo(c, h.queue, h.logger, jobID, path, title)
}

func (h *GDriveHandler) download(ctx context.Context, fileID, jobID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.downloadURL(fileID), nil)
	if err != nil {
		return "", "", err
	}

	h.logger.WithField("file_id", fileID).Info("Downloading from Google Drive")
	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", h.timedOut(ctx.Err())
		}
		return "", "", types.NewError(types.KindExternal, types.CodeDownloadFailed,
			"Failed to download file from Google Drive", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", types.Errorf(types.KindValidation, types.CodeDownloadFailed,
			"File not accessible (may be private or doesn't exist)")
	}
	title, named := driveFilename(resp.Header.Get("Content-Disposition"))
	if err := media.ValidateVideoType(resp.Header.Get("Content-Type")); err != nil {
		// Drive often serves octet-stream; fall back to the file name.
		if !named || media.VideoTypeByExtension(title) == "" {
			return "", "", err
		}
	}
	if !named {
		title = fileID + ".mp4"
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if resp.ContentLength > maxSize {
		return "", "", types.Errorf(types.KindValidation, types.CodeFileTooLarge,
			"File too large. Maximum file size is %dMB.", h.maxSizeMB)
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", "", types.NewError(types.KindResource, types.CodeDownloadFailed, "Failed to save downloaded file", err)
	}

	path := filepath.Join(h.uploadDir, fmt.Sprintf("video-%s%s", jobID, filepath.Ext(title)))
	out, err := os.Create(path)
	if err != nil {
		return "", "", types.NewError(types.KindResource, types.CodeDownloadFailed, "Failed to save downloaded file", err)
	}

	n, err := io.Copy(out, io.LimitReader(resp.Body, maxSize+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil || n > maxSize {
		_ = os.Remove(path)
		if ctx.Err() != nil {
			return "", "", h.timedOut(ctx.Err())
		}
		if n > maxSize {
			return "", "", types.Errorf(types.KindValidation, types.CodeFileTooLarge,
				"File too large. Maximum file size is %dMB.", h.maxSizeMB)
		}
		return "", "", types.NewError(types.KindResource, types.CodeDownloadFailed, "Failed to write downloaded file", err)
	}

	return path, title, nil
}

func (h *GDriveHandler) timedOut(err error) error {
	return types.NewError(types.KindExternal, types.CodeDownloadFailed,
		fmt.Sprintf("Google Drive download timed out after %s", h.timeout), err)
}

// extractGDriveFileID extracts the file ID from various Google Drive URL formats
func extractGDriveFileID(url string) string {
	// https://drive.google.com/file/d/{ID}/view
	if matches := gdrivePathID.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}
	// https://drive.google.com/open?id={ID}
	if matches := gdriveQueryID.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}
	if matches := gdriveBareID.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}
	return ""
}

var dispositionName = regexp.MustCompile(`filename="?([^";]+)"?`)

func driveFilename(disposition string) (string, bool) {
	if m := dispositionName.FindStringSubmatch(disposition); len(m) > 1 {
		return filepath.Base(m[1]), true
	}
	return "", false
}
