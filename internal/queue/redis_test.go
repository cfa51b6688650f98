package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/video-summarizer/internal/logging"
	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

func newRedisQueue(t *testing.T, opts RedisOptions) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redisQueueOn(t, mr, opts), mr
}

// redisQueueOn connects another worker to an existing server
func redisQueueOn(t *testing.T, mr *miniredis.Miniredis, opts RedisOptions) *RedisQueue {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client, opts, logging.Discard())
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisEnqueueStoresWaitingJob(t *testing.T) {
	q, mr := newRedisQueue(t, RedisOptions{Name: "vs"})

	h, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{
		JobID:     "job-1",
		SourceURL: "https://www.youtube.com/watch?v=abc",
		VideoInfo: types.VideoInfo{Title: "Demo", Duration: types.IntPtr(120)},
	}, EnqueueOptions{JobID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", h.ID())

	assert.True(t, mr.Exists("vs:job:job-1"))
	wait, err := mr.List("vs:wait")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, wait)

	job, ok, err := q.Fetch(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateWaiting, job.State)
	assert.Equal(t, types.JobNameSummarizeVideo, job.Name)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", job.Payload.SourceURL)
	require.NotNil(t, job.Payload.VideoInfo.Duration)
	assert.Equal(t, 120, *job.Payload.VideoInfo.Duration)
	assert.Equal(t, Progress{Percent: 0, Stage: types.StagePending}, job.Progress)
}

func TestRedisFetchUnknown(t *testing.T) {
	q, _ := newRedisQueue(t, RedisOptions{Name: "vs"})

	job, ok, err := q.Fetch(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, job)
}

func TestRedisCompletesJobAndSetsRetention(t *testing.T) {
	q, mr := newRedisQueue(t, RedisOptions{Name: "vs", Attempts: 2, RemoveOnCompleteAge: time.Hour})

	require.NoError(t, q.Register(func(ctx context.Context, job Job, h Handle) (*types.Result, error) {
		assert.NoError(t, h.UpdateProgress(ctx, Progress{Percent: 70, Stage: types.StageSummarizing}))
		return &types.Result{Transcript: "words", Summary: "- bullet", VideoInfo: job.Payload.VideoInfo}, nil
	}))

	_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{
		VideoInfo: types.VideoInfo{Title: "Demo"},
	}, EnqueueOptions{JobID: "ok"})
	require.NoError(t, err)

	job := waitForState(t, q, "ok", StateCompleted)
	require.NotNil(t, job.Result)
	assert.Equal(t, "- bullet", job.Result.Summary)
	assert.Equal(t, "Demo", job.Result.VideoInfo.Title)
	assert.Equal(t, Progress{Percent: 100, Stage: types.StageCompleted}, job.Progress)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.NotNil(t, job.FinishedAt)

	assert.Equal(t, time.Hour, mr.TTL("vs:job:ok"))
	completed, err := mr.ZMembers("vs:completed")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, completed)

	assert.False(t, mr.Exists("vs:active"))
	assert.False(t, mr.Exists("vs:leases"))
	assert.Empty(t, mr.HGet("vs:job:ok", "lock"))
}

func TestRedisRetriesThenFails(t *testing.T) {
	q, mr := newRedisQueue(t, RedisOptions{
		Name:            "vs",
		Attempts:        2,
		Backoff:         time.Millisecond,
		RemoveOnFailAge: 24 * time.Hour,
	})

	var calls int32
	require.NoError(t, q.Register(func(context.Context, Job, Handle) (*types.Result, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("Transcription failed: upstream timeout")
	}))

	_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "bad"})
	require.NoError(t, err)

	job := waitForState(t, q, "bad", StateFailed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, job.AttemptsMade)
	assert.Equal(t, "Transcription failed: upstream timeout", job.FailureReason)
	assert.Nil(t, job.Result)
	assert.Equal(t, 24*time.Hour, mr.TTL("vs:job:bad"))
}

func TestRedisSecondAttemptCanSucceed(t *testing.T) {
	q, _ := newRedisQueue(t, RedisOptions{Name: "vs", Attempts: 2, Backoff: time.Millisecond})

	var calls int32
	var mu sync.Mutex
	var finalFlags []bool
	require.NoError(t, q.Register(func(_ context.Context, job Job, _ Handle) (*types.Result, error) {
		mu.Lock()
		finalFlags = append(finalFlags, job.FinalAttempt())
		mu.Unlock()
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("flaky")
		}
		return &types.Result{Summary: "ok"}, nil
	}))

	_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "flaky"})
	require.NoError(t, err)

	job := waitForState(t, q, "flaky", StateCompleted)
	assert.Equal(t, 2, job.AttemptsMade)
	assert.Equal(t, 2, job.MaxAttempts)
	assert.Empty(t, job.FailureReason)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, finalFlags)
}

func TestRedisTrimsCompletedBeyondCount(t *testing.T) {
	q, mr := newRedisQueue(t, RedisOptions{Name: "vs", Attempts: 1, RemoveOnCompleteCount: 2})

	base := time.Now()
	var tick int64
	q.now = func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
	}

	require.NoError(t, q.Register(func(context.Context, Job, Handle) (*types.Result, error) {
		return &types.Result{Summary: "done"}, nil
	}))

	for _, id := range []string{"j1", "j2", "j3"} {
		_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: id})
		require.NoError(t, err)
	}

	waitForState(t, q, "j3", StateCompleted)
	require.Eventually(t, func() bool {
		_, ok, err := q.Fetch(context.Background(), "j1")
		return err == nil && !ok
	}, 5*time.Second, 10*time.Millisecond)

	members, err := mr.ZMembers("vs:completed")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"j2", "j3"}, members)
}

func TestRedisDuplicateIDIsNotRequeued(t *testing.T) {
	q, mr := newRedisQueue(t, RedisOptions{Name: "vs"})

	_, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{SourceURL: "a"}, EnqueueOptions{JobID: "dup"})
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{SourceURL: "b"}, EnqueueOptions{JobID: "dup"})
	require.NoError(t, err)

	wait, err := mr.List("vs:wait")
	require.NoError(t, err)
	assert.Len(t, wait, 1)

	job, _, err := q.Fetch(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, "a", job.Payload.SourceURL)
}

func TestRedisHandleState(t *testing.T) {
	q, _ := newRedisQueue(t, RedisOptions{Name: "vs"})

	h, err := q.Enqueue(context.Background(), types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "s"})
	require.NoError(t, err)

	state, err := h.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state)

	require.NoError(t, h.UpdateProgress(context.Background(), Progress{Percent: 20, Stage: types.StageDownloading}))
	job, _, err := q.Fetch(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, Progress{Percent: 20, Stage: types.StageDownloading}, job.Progress)

	gone := &redisHandle{q: q, id: "gone"}
	_, err = gone.State(context.Background())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisProgressIgnoredForTerminalOrMissingJobs(t *testing.T) {
	q, mr := newRedisQueue(t, RedisOptions{Name: "vs"})
	ctx := context.Background()

	gone := &redisHandle{q: q, id: "gone"}
	require.NoError(t, gone.UpdateProgress(ctx, Progress{Percent: 50, Stage: types.StageTranscribing}))
	assert.False(t, mr.Exists("vs:job:gone"))

	h, err := q.Enqueue(ctx, types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "done"})
	require.NoError(t, err)
	mr.HSet("vs:job:done", "state", string(StateCompleted))

	require.NoError(t, h.UpdateProgress(ctx, Progress{Percent: 50, Stage: types.StageTranscribing}))
	job, ok, err := q.Fetch(ctx, "done")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Progress{Percent: 0, Stage: types.StagePending}, job.Progress)
}

// stallingWorker registers a processor that takes one job and never
// finishes it, as if its process had hung or died. Its lease is never
// renewed.
func stallingWorker(t *testing.T, mr *miniredis.Miniredis, opts RedisOptions) (*RedisQueue, <-chan struct{}) {
	t.Helper()
	q := redisQueueOn(t, mr, opts)
	q.renewEvery = time.Hour

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	require.NoError(t, q.Register(func(ctx context.Context, job Job, h Handle) (*types.Result, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return &types.Result{Summary: "stale"}, nil
	}))
	return q, started
}

func TestRedisAbandonedJobIsRetriedByAnotherWorker(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	stuck, started := stallingWorker(t, mr, RedisOptions{Name: "vs", Attempts: 2, LockDuration: 200 * time.Millisecond})
	_, err := stuck.Enqueue(ctx, types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "j1"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("stalled worker never took the job")
	}

	healthy := redisQueueOn(t, mr, RedisOptions{Name: "vs", Attempts: 2})
	require.NoError(t, healthy.Register(func(context.Context, Job, Handle) (*types.Result, error) {
		return &types.Result{Summary: "fresh"}, nil
	}))

	job := waitForState(t, healthy, "j1", StateCompleted)
	assert.Equal(t, 2, job.AttemptsMade)
	require.NotNil(t, job.Result)
	assert.Equal(t, "fresh", job.Result.Summary)

	// The late finish of the abandoned attempt must not overwrite the result.
	require.NoError(t, stuck.Close())
	job, ok, err := healthy.Fetch(ctx, "j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, "fresh", job.Result.Summary)
	assert.False(t, mr.Exists("vs:active"))
	assert.False(t, mr.Exists("vs:leases"))
}

func TestRedisAbandonedJobFailsWithoutAttemptsLeft(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	stuck, started := stallingWorker(t, mr, RedisOptions{Name: "vs", Attempts: 1, LockDuration: 200 * time.Millisecond})
	_, err := stuck.Enqueue(ctx, types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "j1"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("stalled worker never took the job")
	}

	var calls int32
	healthy := redisQueueOn(t, mr, RedisOptions{Name: "vs", Attempts: 1, RemoveOnFailAge: time.Hour})
	require.NoError(t, healthy.Register(func(context.Context, Job, Handle) (*types.Result, error) {
		atomic.AddInt32(&calls, 1)
		return &types.Result{Summary: "fresh"}, nil
	}))

	job := waitForState(t, healthy, "j1", StateFailed)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Equal(t, stalledReason, job.FailureReason)
	assert.NotNil(t, job.FinishedAt)
	assert.Zero(t, atomic.LoadInt32(&calls))

	failed, err := mr.ZMembers("vs:failed")
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, failed)
	assert.Equal(t, time.Hour, mr.TTL("vs:job:j1"))
}

func TestRedisRenewedLeaseIsNotRecovered(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	slow := redisQueueOn(t, mr, RedisOptions{Name: "vs", Attempts: 2, LockDuration: 200 * time.Millisecond})
	slow.renewEvery = 50 * time.Millisecond
	started := make(chan struct{})
	require.NoError(t, slow.Register(func(ctx context.Context, job Job, h Handle) (*types.Result, error) {
		close(started)
		select {
		case <-time.After(1500 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &types.Result{Summary: "slow"}, nil
	}))
	_, err := slow.Enqueue(ctx, types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "long"})
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("slow worker never took the job")
	}

	var calls int32
	other := redisQueueOn(t, mr, RedisOptions{Name: "vs", Attempts: 2})
	require.NoError(t, other.Register(func(context.Context, Job, Handle) (*types.Result, error) {
		atomic.AddInt32(&calls, 1)
		return &types.Result{Summary: "other"}, nil
	}))

	job := waitForState(t, other, "long", StateCompleted)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Equal(t, "slow", job.Result.Summary)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestRedisRecoverStalledOnStartup(t *testing.T) {
	q, mr := newRedisQueue(t, RedisOptions{Name: "vs", Attempts: 2})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "left"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, types.JobNameSummarizeVideo, Payload{}, EnqueueOptions{JobID: "fresh"})
	require.NoError(t, err)

	// A previous process took both jobs; only "left" has an expired lease
	// and "fresh" was taken but never claimed.
	mr.Del("vs:wait")
	_, err = mr.Lpush("vs:active", "left")
	require.NoError(t, err)
	_, err = mr.Lpush("vs:active", "fresh")
	require.NoError(t, err)
	mr.HSet("vs:job:left", "state", string(StateActive), "attempts_made", "1", "lock", "dead-worker")
	_, err = mr.ZAdd("vs:leases", float64(time.Now().Add(-time.Minute).UnixMilli()), "left")
	require.NoError(t, err)

	require.NoError(t, q.recoverStalled(ctx))

	wait, err := mr.List("vs:wait")
	require.NoError(t, err)
	assert.Equal(t, []string{"left"}, wait)
	active, err := mr.List("vs:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, active)
	leased, err := mr.ZMembers("vs:leases")
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, leased)

	job, ok, err := q.Fetch(ctx, "left")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateWaiting, job.State)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Empty(t, mr.HGet("vs:job:left", "lock"))

	require.NoError(t, q.Register(func(context.Context, Job, Handle) (*types.Result, error) {
		return &types.Result{Summary: "done"}, nil
	}))
	job = waitForState(t, q, "left", StateCompleted)
	assert.Equal(t, 2, job.AttemptsMade)
}
