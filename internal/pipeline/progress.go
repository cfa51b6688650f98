package pipeline

import (
	"context"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/queue"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// tracker forwards stage progress to the job handle. Percent never moves
// backwards; a failed write is logged and the job carries on.
type tracker struct {
	ctx    context.Context
	handle queue.Handle
	logger logrus.FieldLogger

	mu      sync.Mutex
	percent int
	stage   types.Stage
}

func newTracker(ctx context.Context, h queue.Handle, logger logrus.FieldLogger) *tracker {
	return &tracker{ctx: ctx, handle: h, logger: logger, stage: types.StagePending}
}

func (t *tracker) set(percent int, stage types.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if percent < t.percent {
		percent = t.percent
	}
	if percent > 100 {
		percent = 100
	}
	if percent == t.percent && stage == t.stage {
		return
	}
	t.percent, t.stage = percent, stage

	if err := t.handle.UpdateProgress(t.ctx, queue.Progress{Percent: percent, Stage: stage}); err != nil {
		t.logger.WithError(err).WithField("stage", stage).Warn("Failed to update job progress")
	}
}

// within maps a stage-local fraction onto [base, base+span]
func (t *tracker) within(base, span int, stage types.Stage) func(float64) {
	return func(f float64) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		t.set(base+int(math.Round(f*float64(span))), stage)
	}
}
