package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// DriveExporter uploads finished summaries into dated Drive folders:
// <root>/2025/01/23/<timestamp>_<title>.summary.md
type DriveExporter struct {
	files      driveFiles
	folderName string
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewDriveExporter creates an exporter writing under the folderName root
func NewDriveExporter(client *DriveClient, folderName string, logger logrus.FieldLogger) *DriveExporter {
	return newDriveExporter(client, folderName, logger)
}

func newDriveExporter(files driveFiles, folderName string, logger logrus.FieldLogger) *DriveExporter {
	if folderName == "" {
		folderName = "Video Summaries"
	}
	return &DriveExporter{
		files:      files,
		folderName: folderName,
		logger:     logger,
		now:        time.Now,
	}
}

// Export uploads the summary and transcript of a completed job
func (e *DriveExporter) Export(ctx context.Context, jobID string, result *types.Result) error {
	now := e.now()
	folderID, err := e.ensureDateFolder(ctx, now)
	if err != nil {
		return err
	}

	base := fmt.Sprintf("%s_%s", now.Format("20060102_150405"), sanitizeFilename(result.VideoInfo.Title))

	if _, err := e.files.CreateFile(ctx, base+".summary.md", folderID, "text/markdown",
		strings.NewReader(renderSummary(jobID, result, now))); err != nil {
		return err
	}
	if _, err := e.files.CreateFile(ctx, base+".transcript.txt", folderID, "text/plain",
		strings.NewReader(result.Transcript)); err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{"job_id": jobID, "file": base}).Info("Exported result to Google Drive")
	return nil
}

// ensureDateFolder creates nested root/year/month/day folders
func (e *DriveExporter) ensureDateFolder(ctx context.Context, t time.Time) (string, error) {
	parent := ""
	for _, name := range []string{
		e.folderName,
		fmt.Sprintf("%d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
	} {
		id, err := e.files.FindOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

func renderSummary(jobID string, result *types.Result, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", result.VideoInfo.Title)
	fmt.Fprintf(&b, "- Job: %s\n", jobID)
	if result.VideoInfo.Duration != nil {
		fmt.Fprintf(&b, "- Duration: %d minutes\n", *result.VideoInfo.Duration)
	}
	fmt.Fprintf(&b, "- Summarized: %s\n\n", now.UTC().Format(time.RFC3339))
	b.WriteString(result.Summary)
	b.WriteString("\n")
	return b.String()
}

// sanitizeFilename replaces characters Drive and most filesystems reject
func sanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if result == "" {
		result = "video"
	}
	if r := []rune(result); len(r) > 100 {
		result = string(r[:100])
	}
	return result
}
