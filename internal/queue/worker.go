package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// MemoryQueue is the in-process fallback backend. Jobs live in a map for
// the life of the process and a single worker goroutine runs them in FIFO
// order. Jobs enqueued before Register are recorded but never scheduled.
type MemoryQueue struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	pending   []string
	processor Processor

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger logrus.FieldLogger
	now    func() time.Time
}

// NewMemoryQueue creates a new in-process queue
func NewMemoryQueue(logger logrus.FieldLogger) *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		jobs:   make(map[string]*Job),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger.WithField("backend", "memory"),
		now:    time.Now,
	}
}

// Backend implements Queue
func (q *MemoryQueue) Backend() string { return "memory" }

// Enqueue implements Queue
func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload Payload, opts EnqueueOptions) (Handle, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}

	q.mu.Lock()
	if _, exists := q.jobs[id]; exists {
		q.mu.Unlock()
		q.logger.WithField("job_id", id).Debug("Job already exists, returning existing handle")
		return &memoryHandle{q: q, id: id}, nil
	}

	q.jobs[id] = &Job{
		ID:          id,
		Name:        name,
		Payload:     payload,
		State:       StateWaiting,
		Progress:    Progress{Percent: 0, Stage: types.StagePending},
		MaxAttempts: 1,
		CreatedAt:   q.now(),
	}
	scheduled := q.processor != nil
	if scheduled {
		q.pending = append(q.pending, id)
	}
	q.mu.Unlock()

	if scheduled {
		q.signal()
	}
	q.logger.WithFields(logrus.Fields{"job_id": id, "scheduled": scheduled}).Info("Job enqueued")
	return &memoryHandle{q: q, id: id}, nil
}

// Fetch implements Queue
func (q *MemoryQueue) Fetch(_ context.Context, id string) (*Job, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, false, nil
	}
	snapshot := *job
	return &snapshot, true, nil
}

// Register implements Queue. The worker goroutine starts here.
func (q *MemoryQueue) Register(p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processor != nil {
		return ErrProcessorRegistered
	}
	q.processor = p
	go q.run()
	q.logger.Info("In-process worker started")
	return nil
}

// Close stops the worker after its current job
func (q *MemoryQueue) Close() error {
	q.cancel()

	q.mu.RLock()
	started := q.processor != nil
	q.mu.RUnlock()
	if started {
		<-q.done
	}
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) run() {
	defer close(q.done)

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		}

		for {
			id, ok := q.next()
			if !ok {
				break
			}
			q.process(id)
			if q.ctx.Err() != nil {
				return
			}
		}
	}
}

func (q *MemoryQueue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	return id, true
}

func (q *MemoryQueue) process(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.State = StateActive
	job.AttemptsMade++
	snapshot := *job
	processor := q.processor
	q.mu.Unlock()

	log := q.logger.WithField("job_id", id)
	log.Info("Processing job")

	result, err := runProcessor(q.ctx, log, processor, snapshot, &memoryHandle{q: q, id: id})

	q.mu.Lock()
	defer q.mu.Unlock()

	finished := q.now()
	job.FinishedAt = &finished
	if err != nil {
		job.State = StateFailed
		job.FailureReason = err.Error()
		log.WithError(err).Error("Job failed")
		return
	}
	job.State = StateCompleted
	job.Result = result
	job.Progress = Progress{Percent: 100, Stage: types.StageCompleted}
	log.Info("Job completed")
}

type memoryHandle struct {
	q  *MemoryQueue
	id string
}

func (h *memoryHandle) ID() string { return h.id }

func (h *memoryHandle) UpdateProgress(_ context.Context, p Progress) error {
	h.q.mu.Lock()
	defer h.q.mu.Unlock()

	job, ok := h.q.jobs[h.id]
	if !ok || job.State.Terminal() {
		return nil
	}
	job.Progress = p
	return nil
}

func (h *memoryHandle) State(_ context.Context) (State, error) {
	h.q.mu.RLock()
	defer h.q.mu.RUnlock()

	job, ok := h.q.jobs[h.id]
	if !ok {
		return "", ErrJobNotFound
	}
	return job.State, nil
}
