package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/llm"
	"github.com/codebuildervaibhav/video-summarizer/internal/media"
	"github.com/codebuildervaibhav/video-summarizer/internal/queue"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// CreditChecker probes whether the completion API is usable
type CreditChecker interface {
	CheckCredits(ctx context.Context) llm.CreditStatus
}

// RemoteSource probes and downloads a remote video's audio
type RemoteSource interface {
	Probe(ctx context.Context, url string) (media.VideoMeta, error)
	Download(ctx context.Context, url, jobID string) (string, error)
}

// AudioExtractor pulls the audio track out of a local video
type AudioExtractor interface {
	Extract(ctx context.Context, videoPath, jobID string) (string, error)
}

// Transcriber turns a local audio file into text
type Transcriber interface {
	Transcribe(ctx context.Context, path string, onProgress func(float64)) (string, error)
}

// Summarizer condenses a transcript
type Summarizer interface {
	Summarize(ctx context.Context, text string, onProgress func(float64)) (string, error)
}

// Exporter publishes a finished result somewhere outside the job store
type Exporter interface {
	Export(ctx context.Context, jobID string, result *types.Result) error
}

// Deps are the stage implementations the processor drives
type Deps struct {
	Credits     CreditChecker
	Remote      RemoteSource
	Extractor   AudioExtractor
	Transcriber Transcriber
	Summarizer  Summarizer
	// Exporter is optional; export failures never fail the job.
	Exporter Exporter
}

// Processor runs one summarization job through its stages:
// checking_credits, checking_duration, downloading or extracting_audio,
// transcribing, summarizing, completed.
type Processor struct {
	deps        Deps
	maxDuration time.Duration
	logger      logrus.FieldLogger
	remove      func(name string) error
}

// NewProcessor creates a new processor. maxDuration applies to remote
// videos only.
func NewProcessor(deps Deps, maxDuration time.Duration, logger logrus.FieldLogger) *Processor {
	return &Processor{
		deps:        deps,
		maxDuration: maxDuration,
		logger:      logger,
		remove:      os.Remove,
	}
}

// Process implements queue.Processor. The uploaded source outlives a failed
// attempt that will be retried; the audio never does.
func (p *Processor) Process(ctx context.Context, job queue.Job, h queue.Handle) (_ *types.Result, err error) {
	log := p.logger.WithField("job_id", job.ID)
	progress := newTracker(ctx, h, log)
	payload := job.Payload

	var audioPath, uploadPath string
	if payload.IsUploadedFile {
		uploadPath = payload.LocalFilePath
	}
	defer func() {
		if err != nil && !job.FinalAttempt() {
			p.cleanup(log, audioPath)
			return
		}
		p.cleanup(log, audioPath, uploadPath)
	}()

	progress.set(5, types.StageCheckingCredits)
	log.Info("Checking OpenAI API credits")
	if status := p.deps.Credits.CheckCredits(ctx); !status.OK() {
		return nil, types.Errorf(types.KindGate, status.Code, "OpenAI API credits issue: %s", status.Message)
	}

	progress.set(10, types.StageCheckingDuration)
	info := payload.VideoInfo

	if payload.IsUploadedFile {
		if uploadPath == "" {
			return nil, types.Errorf(types.KindValidation, types.CodeMissingFile, "No video file provided for upload job")
		}
		if info.Title == "" {
			info.Title = filepath.Base(uploadPath)
		}

		progress.set(20, types.StageExtractingAudio)
		log.WithField("video", uploadPath).Info("Processing uploaded video file")
		audioPath, err = p.deps.Extractor.Extract(ctx, uploadPath, job.ID)
		if err != nil {
			return nil, err
		}
	} else {
		if payload.SourceURL == "" {
			return nil, types.Errorf(types.KindValidation, types.CodeMissingURL, "YouTube URL is required")
		}

		log.WithField("url", payload.SourceURL).Info("Checking video duration")
		meta, err := p.deps.Remote.Probe(ctx, payload.SourceURL)
		if err != nil {
			return nil, err
		}
		minutes := types.DurationMinutes(meta.DurationSeconds)
		if meta.DurationSeconds > p.maxDuration.Seconds() {
			return nil, types.Errorf(types.KindGate, types.CodeVideoTooLong,
				"Video too long (%d minutes). Maximum supported duration is %d minutes.",
				minutes, int(p.maxDuration.Minutes()))
		}
		info = types.VideoInfo{Title: meta.Title, Duration: types.IntPtr(minutes)}

		progress.set(20, types.StageDownloading)
		audioPath, err = p.deps.Remote.Download(ctx, payload.SourceURL, job.ID)
		if err != nil {
			return nil, err
		}
	}

	progress.set(40, types.StageTranscribing)
	transcript, err := p.deps.Transcriber.Transcribe(ctx, audioPath, progress.within(40, 30, types.StageTranscribing))
	if err != nil {
		return nil, err
	}

	progress.set(70, types.StageSummarizing)
	summary, err := p.deps.Summarizer.Summarize(ctx, transcript, progress.within(70, 25, types.StageSummarizing))
	if err != nil {
		return nil, err
	}

	result := &types.Result{Transcript: transcript, Summary: summary, VideoInfo: info}
	if p.deps.Exporter != nil {
		if err := p.deps.Exporter.Export(ctx, job.ID, result); err != nil {
			log.WithError(err).Warn("Failed to export result")
		}
	}

	progress.set(100, types.StageCompleted)
	log.WithField("title", info.Title).Info("Summary completed")
	return result, nil
}

// cleanup removes the job's temporary audio and uploaded source. Failures
// are logged only so they never replace the job outcome.
func (p *Processor) cleanup(log logrus.FieldLogger, paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := p.remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.WithError(err).WithField("path", path).Warn("Failed to clean up file")
			}
			continue
		}
		log.WithField("path", path).Debugf("Cleaned up %s", filepath.Base(path))
	}
}
