package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/video-summarizer/internal/logging"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

func newMemoryQueue(t *testing.T) *MemoryQueue {
	t.Helper()
	q := NewMemoryQueue(logging.Discard())
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func waitForState(t *testing.T, q Queue, id string, want State) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, ok, err := q.Fetch(context.Background(), id)
		if err != nil || !ok {
			return false
		}
		job = j
		return j.State == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestMemoryFetchUnknown(t *testing.T) {
	q := newMemoryQueue(t)

	job, ok, err := q.Fetch(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, job)
}

func TestMemoryCompletesJob(t *testing.T) {
	q := newMemoryQueue(t)
	require.NoError(t, q.Register(func(ctx context.Context, job Job, h Handle) (*types.Result, error) {
		assert.NoError(t, h.UpdateProgress(ctx, Progress{Percent: 40, Stage: types.StageTranscribing}))
		assert.True(t, job.FinalAttempt())
		return &types.Result{Summary: "- point", Transcript: "hello", VideoInfo: job.Payload.VideoInfo}, nil
	}))

	h, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{
		JobID:     "job-1",
		SourceURL: "https://youtu.be/abc",
		VideoInfo: types.VideoInfo{Title: "Demo"},
	}, EnqueueOptions{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", h.ID())

	job := waitForState(t, q, "job-1", StateCompleted)
	require.NotNil(t, job.Result)
	assert.Equal(t, "- point", job.Result.Summary)
	assert.Equal(t, "Demo", job.Result.VideoInfo.Title)
	assert.Equal(t, Progress{Percent: 100, Stage: types.StageCompleted}, job.Progress)
	assert.Empty(t, job.FailureReason)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, 1, job.MaxAttempts)

	state, err := h.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
}

func TestMemoryRecordsFailureReason(t *testing.T) {
	q := newMemoryQueue(t)
	require.NoError(t, q.Register(func(context.Context, Job, Handle) (*types.Result, error) {
		return nil, errors.New("Video too long (181 minutes). Maximum supported duration is 120 minutes.")
	}))

	_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "long"})
	require.NoError(t, err)

	job := waitForState(t, q, "long", StateFailed)
	assert.Nil(t, job.Result)
	assert.Contains(t, job.FailureReason, "181 minutes")
	assert.Equal(t, 1, job.AttemptsMade)
}

func TestMemoryRecoversPanic(t *testing.T) {
	q := newMemoryQueue(t)
	require.NoError(t, q.Register(func(context.Context, Job, Handle) (*types.Result, error) {
		panic("boom")
	}))

	_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "p"})
	require.NoError(t, err)

	job := waitForState(t, q, "p", StateFailed)
	assert.Contains(t, job.FailureReason, "worker panic")
}

func TestMemoryJobsBeforeRegisterNeverRun(t *testing.T) {
	q := newMemoryQueue(t)

	_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "early"})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	require.NoError(t, q.Register(func(_ context.Context, job Job, _ Handle) (*types.Result, error) {
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		return &types.Result{}, nil
	}))

	_, err = q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "late"})
	require.NoError(t, err)
	waitForState(t, q, "late", StateCompleted)

	early, ok, err := q.Fetch(context.Background(), "early")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateWaiting, early.State)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"late"}, seen)
}

func TestMemoryRunsOneJobAtATimeInOrder(t *testing.T) {
	q := newMemoryQueue(t)

	var active, maxActive int32
	var mu sync.Mutex
	var order []string
	require.NoError(t, q.Register(func(_ context.Context, job Job, _ Handle) (*types.Result, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		return &types.Result{}, nil
	}))

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: id})
		require.NoError(t, err)
	}
	waitForState(t, q, "d", StateCompleted)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, ids, order)
}

func TestMemoryDuplicateIDReturnsExistingJob(t *testing.T) {
	q := newMemoryQueue(t)

	var calls int32
	require.NoError(t, q.Register(func(context.Context, Job, Handle) (*types.Result, error) {
		atomic.AddInt32(&calls, 1)
		return &types.Result{Summary: "first"}, nil
	}))

	_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{SourceURL: "a"}, EnqueueOptions{JobID: "dup"})
	require.NoError(t, err)
	waitForState(t, q, "dup", StateCompleted)

	h, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{SourceURL: "b"}, EnqueueOptions{JobID: "dup"})
	require.NoError(t, err)
	assert.Equal(t, "dup", h.ID())

	job, ok, err := q.Fetch(context.Background(), "dup")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", job.Payload.SourceURL)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMemoryGeneratesIDWhenAbsent(t *testing.T) {
	q := newMemoryQueue(t)

	h, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())

	_, ok, err := q.Fetch(context.Background(), h.ID())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryRegisterTwice(t *testing.T) {
	q := newMemoryQueue(t)
	noop := func(context.Context, Job, Handle) (*types.Result, error) { return &types.Result{}, nil }

	require.NoError(t, q.Register(noop))
	assert.ErrorIs(t, q.Register(noop), ErrProcessorRegistered)
}

func TestMemoryFetchReturnsSnapshot(t *testing.T) {
	q := newMemoryQueue(t)

	_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "snap"})
	require.NoError(t, err)

	job, _, err := q.Fetch(context.Background(), "snap")
	require.NoError(t, err)
	job.State = StateCompleted

	again, _, err := q.Fetch(context.Background(), "snap")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, again.State)
}
