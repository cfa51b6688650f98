package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// Extract converts an uploaded video into an MP3 audio track in the scratch
// directory. The subprocess is killed after the extract timeout.
func (r *Resolver) Extract(ctx context.Context, videoPath, jobID string) (string, error) {
	if _, err := r.stat(videoPath); err != nil {
		return "", types.NewError(types.KindResource, types.CodeFileNotFound,
			fmt.Sprintf("Video file not found: %s", videoPath), err)
	}
	if err := r.mkdirAll(r.scratchDir, 0o755); err != nil {
		return "", types.NewError(types.KindResource, types.CodeExtractionFailed,
			fmt.Sprintf("Failed to extract audio from video: cannot create scratch directory %s", r.scratchDir), err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.extractTimeout)
	defer cancel()

	audioPath := filepath.Join(r.scratchDir, jobID+"-audio.mp3")
	r.logger.WithFields(logrus.Fields{"job_id": jobID, "video": videoPath}).Info("Extracting audio from video file")

	res, err := r.runner.Run(ctx, r.ffmpegPath,
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-ar", "44100",
		"-ac", "2",
		audioPath,
		"-y",
	)
	if err != nil {
		r.removeQuietly(audioPath)
		switch {
		case isNotInstalled(err, res, "ffmpeg"):
			return "", types.NewError(types.KindToolMissing, types.CodeFFmpegNotInstalled, ffmpegMissingMessage, err)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return "", types.NewError(types.KindResource, types.CodeExtractionFailed,
				fmt.Sprintf("Failed to extract audio from video: timed out after %s", r.extractTimeout), err)
		default:
			return "", types.NewError(types.KindResource, types.CodeExtractionFailed,
				fmt.Sprintf("Failed to extract audio from video: %s", describe(err, res)), err)
		}
	}

	if _, err := r.stat(audioPath); err != nil {
		return "", types.NewError(types.KindResource, types.CodeExtractionFailed,
			"Failed to extract audio from video: output file not created", err)
	}

	r.logger.WithFields(logrus.Fields{"job_id": jobID, "path": audioPath}).Info("Audio extracted")
	return audioPath, nil
}

func (r *Resolver) removeQuietly(path string) {
	if err := r.remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.WithError(err).WithField("path", path).Warn("Failed to remove partial audio")
	}
}
