package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// State is the lifecycle state of a job. Transitions only move forward:
// waiting -> active -> completed|failed. A durable retry moves a failed
// attempt back to waiting before the job is terminal.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Progress is the percent/stage pair clients poll for
type Progress struct {
	Percent int         `json:"progress"`
	Stage   types.Stage `json:"stage"`
}

// Payload is the job input. Exactly one of SourceURL or LocalFilePath is
// set; IsUploadedFile selects the upload branch of the pipeline.
type Payload struct {
	JobID          string          `json:"jobId"`
	SourceURL      string          `json:"url,omitempty"`
	LocalFilePath  string          `json:"videoFilePath,omitempty"`
	IsUploadedFile bool            `json:"isUploadedFile,omitempty"`
	VideoInfo      types.VideoInfo `json:"videoInfo"`
}

// Job is a snapshot of a job record
type Job struct {
	ID            string
	Name          string
	Payload       Payload
	State         State
	Progress      Progress
	Result        *types.Result
	FailureReason string
	AttemptsMade  int
	MaxAttempts   int
	CreatedAt     time.Time
	FinishedAt    *time.Time
}

// FinalAttempt reports whether a failure of the current attempt is terminal
func (j Job) FinalAttempt() bool {
	return j.MaxAttempts <= 0 || j.AttemptsMade >= j.MaxAttempts
}

// Handle is the executing worker's (or submitter's) view of one job.
// Both backends implement it, so the processor never needs to know which
// one is live.
type Handle interface {
	ID() string
	UpdateProgress(ctx context.Context, p Progress) error
	State(ctx context.Context) (State, error)
}

// Processor executes one job. It is registered once per queue.
type Processor func(ctx context.Context, job Job, h Handle) (*types.Result, error)

// EnqueueOptions carries the optional client-supplied job id
type EnqueueOptions struct {
	JobID string
}

// Queue is the job store plus scheduling contract shared by the durable
// and in-process backends.
type Queue interface {
	// Enqueue records a waiting job and schedules it when a processor is
	// registered. Re-using an existing id returns that job's handle.
	Enqueue(ctx context.Context, name string, payload Payload, opts EnqueueOptions) (Handle, error)
	// Fetch returns the job snapshot; ok is false for unknown ids.
	Fetch(ctx context.Context, id string) (job *Job, ok bool, err error)
	// Register installs the single processor and starts execution.
	Register(p Processor) error
	// Backend names the implementation: "redis" or "memory".
	Backend() string
	Close() error
}

// ErrProcessorRegistered is returned when a second processor is registered
var ErrProcessorRegistered = errors.New("processor already registered")

// ErrJobNotFound is returned by a handle whose job record is gone
var ErrJobNotFound = errors.New("job not found")

// runProcessor executes p, converting a panic into a job failure
func runProcessor(ctx context.Context, logger logrus.FieldLogger, p Processor, job Job, h Handle) (result *types.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("job_id", job.ID).Errorf("PANIC processing job: %v\n%s", r, string(debug.Stack()))
			result = nil
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	result, err = p(ctx, job, h)
	if err == nil && result == nil {
		err = errors.New("processor returned no result")
	}
	return result, err
}
