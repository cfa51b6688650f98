package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/config"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

const (
	ytDlpMissingMessage  = "yt-dlp is not installed. YouTube URLs require yt-dlp to fetch and download videos. Install yt-dlp or upload the video file instead."
	ffmpegMissingMessage = "ffmpeg is required to extract audio from video files. Install ffmpeg or submit a YouTube URL instead."
)

// audioExtensions is the preference order when yt-dlp leaves several files
var audioExtensions = []string{".m4a", ".webm", ".opus", ".ogg", ".mp3"}

// VideoMeta is the result of a metadata-only probe
type VideoMeta struct {
	DurationSeconds float64
	Title           string
}

// Resolver turns a remote URL or an uploaded video into one local audio file
type Resolver struct {
	ytDlpPath       string
	ffmpegPath      string
	scratchDir      string
	probeTimeout    time.Duration
	downloadTimeout time.Duration
	extractTimeout  time.Duration

	runner   Runner
	logger   logrus.FieldLogger
	mkdirAll func(path string, perm os.FileMode) error
	glob     func(pattern string) ([]string, error)
	stat     func(name string) (os.FileInfo, error)
	remove   func(name string) error
}

// NewResolver creates a resolver writing audio into scratchDir
func NewResolver(tools config.Tools, scratchDir string, logger logrus.FieldLogger) *Resolver {
	return newResolver(tools, scratchDir, ExecRunner{}, logger)
}

func newResolver(tools config.Tools, scratchDir string, runner Runner, logger logrus.FieldLogger) *Resolver {
	return &Resolver{
		ytDlpPath:       tools.YtDlpPath,
		ffmpegPath:      tools.FFmpegPath,
		scratchDir:      scratchDir,
		probeTimeout:    tools.ProbeTimeout,
		downloadTimeout: tools.DownloadTimeout,
		extractTimeout:  tools.ExtractTimeout,
		runner:          runner,
		logger:          logger,
		mkdirAll:        os.MkdirAll,
		glob:            filepath.Glob,
		stat:            os.Stat,
		remove:          os.Remove,
	}
}

type ytDlpInfo struct {
	Duration float64 `json:"duration"`
	Title    string  `json:"title"`
}

// Probe fetches duration and title without downloading anything
func (r *Resolver) Probe(ctx context.Context, url string) (VideoMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	r.logger.WithField("url", url).Info("Fetching video information (no download)")
	res, err := r.runner.Run(ctx, r.ytDlpPath, "--dump-json", "--no-download", "--no-playlist", url)
	if err != nil {
		if isNotInstalled(err, res, "yt-dlp") {
			return VideoMeta{}, types.NewError(types.KindToolMissing, types.CodeYtDlpNotInstalled, ytDlpMissingMessage, err)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return VideoMeta{}, types.NewError(types.KindExternal, types.CodeVideoInfo,
				fmt.Sprintf("Failed to get video information: timed out after %s", r.probeTimeout), err)
		}
		return VideoMeta{}, types.NewError(types.KindExternal, types.CodeVideoInfo,
			fmt.Sprintf("Failed to get video information: %s", describe(err, res)), err)
	}

	r.logWarnings(res.Stderr)

	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return VideoMeta{}, types.Errorf(types.KindExternal, types.CodeVideoInfo,
			"Failed to get video information: no video information returned from yt-dlp")
	}

	// With --no-playlist yt-dlp prints one JSON document per line; the first is the video.
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}

	var info ytDlpInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		return VideoMeta{}, types.NewError(types.KindExternal, types.CodeVideoInfo,
			"Failed to get video information: invalid video information received", err)
	}

	meta := VideoMeta{DurationSeconds: info.Duration, Title: info.Title}
	if meta.Title == "" {
		meta.Title = "Unknown"
	}
	if meta.DurationSeconds <= 0 {
		r.logger.WithField("url", url).Warn("Video duration is 0 or missing, video might be live or unavailable")
	}

	r.logger.WithFields(logrus.Fields{
		"title":   meta.Title,
		"seconds": meta.DurationSeconds,
		"minutes": types.DurationMinutes(meta.DurationSeconds),
	}).Info("Video info retrieved")
	return meta, nil
}

// Download fetches the best audio-only stream into the scratch directory and
// returns the local path. Partial files are removed on failure.
func (r *Resolver) Download(ctx context.Context, url, jobID string) (string, error) {
	if err := r.mkdirAll(r.scratchDir, 0o755); err != nil {
		return "", types.NewError(types.KindResource, types.CodeDownloadFailed,
			fmt.Sprintf("Failed to download audio: cannot create scratch directory %s", r.scratchDir), err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.downloadTimeout)
	defer cancel()

	prefix := filepath.Join(r.scratchDir, jobID+"-audio")
	r.logger.WithField("job_id", jobID).Info("Downloading audio (best available format)")

	res, err := r.runner.Run(ctx, r.ytDlpPath,
		"-f", "bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio",
		"--no-playlist",
		"-o", prefix+".%(ext)s",
		url,
	)
	if err != nil {
		r.removeMatching(prefix)
		switch {
		case isNotInstalled(err, res, "yt-dlp"):
			return "", types.NewError(types.KindToolMissing, types.CodeYtDlpNotInstalled, ytDlpMissingMessage, err)
		case isNotInstalled(err, res, "ffmpeg") || isNotInstalled(err, res, "ffprobe"):
			return "", types.NewError(types.KindToolMissing, types.CodeFFmpegNotInstalled, ffmpegMissingMessage, err)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return "", types.NewError(types.KindExternal, types.CodeDownloadFailed,
				fmt.Sprintf("Failed to download audio: timed out after %s", r.downloadTimeout), err)
		default:
			return "", types.NewError(types.KindExternal, types.CodeDownloadFailed,
				fmt.Sprintf("Failed to download audio: %s", describe(err, res)), err)
		}
	}

	path, ok := r.findDownloaded(prefix)
	if !ok {
		r.removeMatching(prefix)
		return "", types.Errorf(types.KindResource, types.CodeDownloadFailed,
			"Failed to download audio: audio file was not created after download")
	}

	r.logger.WithFields(logrus.Fields{"job_id": jobID, "path": path}).Info("Audio downloaded")
	return path, nil
}

func (r *Resolver) findDownloaded(prefix string) (string, bool) {
	for _, ext := range audioExtensions {
		candidate := prefix + ext
		if _, err := r.stat(candidate); err == nil {
			return candidate, true
		}
	}

	matches, err := r.glob(prefix + ".*")
	if err != nil {
		return "", false
	}
	sort.Strings(matches)
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		return m, true
	}
	return "", false
}

func (r *Resolver) removeMatching(prefix string) {
	matches, err := r.glob(prefix + ".*")
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := r.remove(m); err != nil && !os.IsNotExist(err) {
			r.logger.WithError(err).WithField("path", m).Warn("Failed to remove partial download")
		}
	}
}

func (r *Resolver) logWarnings(stderr string) {
	var warnings []string
	for _, line := range strings.Split(stderr, "\n") {
		if strings.Contains(line, "WARNING") && !strings.Contains(line, "JavaScript runtime") {
			warnings = append(warnings, strings.TrimSpace(line))
		}
	}
	if len(warnings) > 0 {
		r.logger.Warnf("Video info warnings: %s", strings.Join(warnings, "; "))
	}
}

// describe prefers the tool's own last error line over the exit status
func describe(err error, res CommandResult) string {
	if line := tail(res.Stderr); line != "" {
		return line
	}
	return err.Error()
}
