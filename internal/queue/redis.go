package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/video-summarizer/internal/types"
)

// RedisOptions configures the durable backend
type RedisOptions struct {
	Name                  string
	Attempts              int
	Backoff               time.Duration
	RemoveOnCompleteAge   time.Duration
	RemoveOnCompleteCount int
	RemoveOnFailAge       time.Duration
	PollTimeout           time.Duration

	// LockDuration is how long an active job's lease lasts without a
	// heartbeat before another worker may take the job back.
	LockDuration time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Name == "" {
		o.Name = "video-summarizer"
	}
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = time.Second
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 30 * time.Second
	}
	return o
}

// RedisQueue is the durable backend. Each job is a hash under
// <name>:job:<id>. Waiting ids sit in the <name>:wait list and move
// atomically into <name>:active when a worker takes them. Every active id
// holds a lease in the <name>:leases sorted set (score = expiry in unix ms)
// that its worker renews; an expired lease means the worker died and the
// job is re-queued or failed by whichever worker notices. Retries wait in
// <name>:delayed and terminal ids are indexed in <name>:completed and
// <name>:failed for retention trimming.
type RedisQueue struct {
	client     *redis.Client
	opts       RedisOptions
	logger     logrus.FieldLogger
	now        func() time.Time
	renewEvery time.Duration

	mu        sync.Mutex
	processor Processor
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRedisQueue creates a queue over an already connected client
func NewRedisQueue(client *redis.Client, opts RedisOptions, logger logrus.FieldLogger) *RedisQueue {
	opts = opts.withDefaults()
	renewEvery := opts.LockDuration / 2
	if renewEvery <= 0 {
		renewEvery = opts.LockDuration
	}
	return &RedisQueue{
		client:     client,
		opts:       opts,
		logger:     logger.WithField("backend", "redis"),
		now:        time.Now,
		renewEvery: renewEvery,
	}
}

// Backend implements Queue
func (q *RedisQueue) Backend() string { return "redis" }

func (q *RedisQueue) key(suffix string) string {
	return q.opts.Name + ":" + suffix
}

func (q *RedisQueue) jobKey(id string) string {
	return q.key("job:" + id)
}

// Enqueue implements Queue
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload Payload, opts EnqueueOptions) (Handle, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	key := q.jobKey(id)

	n, err := q.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check job %s: %w", id, err)
	}
	if n > 0 {
		q.logger.WithField("job_id", id).Debug("Job already exists, returning existing handle")
		return &redisHandle{q: q, id: id}, nil
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	progressJSON, _ := json.Marshal(Progress{Percent: 0, Stage: types.StagePending})

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"id":            id,
			"name":          name,
			"payload":       string(payloadJSON),
			"state":         string(StateWaiting),
			"progress":      string(progressJSON),
			"attempts_made": 0,
			"created_at":    q.now().UnixMilli(),
		})
		pipe.LPush(ctx, q.key("wait"), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}

	q.logger.WithField("job_id", id).Info("Job enqueued")
	return &redisHandle{q: q, id: id}, nil
}

// Fetch implements Queue
func (q *RedisQueue) Fetch(ctx context.Context, id string) (*Job, bool, error) {
	vals, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch job %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	job, err := decodeJob(vals)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	job.MaxAttempts = q.opts.Attempts
	return job, true, nil
}

// Register implements Queue. Concurrency is one job at a time.
func (q *RedisQueue) Register(p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processor != nil {
		return ErrProcessorRegistered
	}
	q.processor = p

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(ctx)

	q.logger.WithField("queue", q.opts.Name).Info("Durable worker started")
	return nil
}

// Close stops the worker and closes the client
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return q.client.Close()
}

func (q *RedisQueue) run(ctx context.Context) {
	defer close(q.done)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := q.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
			q.logger.WithError(err).Warn("Failed to promote delayed jobs")
		}
		if err := q.recoverStalled(ctx); err != nil && ctx.Err() == nil {
			q.logger.WithError(err).Warn("Failed to recover stalled jobs")
		}

		id, err := q.client.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", q.opts.PollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.WithError(err).Warn("Failed to poll wait list")
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.opts.PollTimeout):
			}
			continue
		}

		q.process(ctx, id)
	}
}

// promoteDelayed moves retries whose backoff has elapsed back to the wait list
func (q *RedisQueue) promoteDelayed(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range due {
		removed, err := q.client.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key("wait"), id).Err(); err != nil {
			return err
		}
	}
	return nil
}

// stalledReason is recorded on jobs whose lease expired on the last attempt
const stalledReason = "Job stalled: the worker stopped before finishing"

// recoverStalled takes back active jobs whose lease expired. The abandoned
// attempt counts, so the job is re-queued while attempts remain and failed
// otherwise.
func (q *RedisQueue) recoverStalled(ctx context.Context) error {
	now := q.now()
	failTTL := int64(0)
	if q.opts.RemoveOnFailAge > 0 {
		failTTL = int64(q.opts.RemoveOnFailAge / time.Second)
		if failTTL < 1 {
			failTTL = 1
		}
	}

	counts, err := recoverStalledScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("leases"), q.key("wait"), q.key("failed")},
		now.UnixMilli(), q.leaseUntil(now), q.opts.Attempts, q.key("job:"), failTTL, stalledReason,
	).Int64Slice()
	if err != nil {
		return err
	}

	requeued, failed := counts[0], counts[1]
	if requeued == 0 && failed == 0 {
		return nil
	}
	q.logger.WithFields(logrus.Fields{"requeued": requeued, "failed": failed}).Warn("Recovered stalled jobs")
	if failed > 0 {
		return q.trim(ctx, q.key("failed"), q.opts.RemoveOnFailAge, 0)
	}
	return nil
}

// recoverStalledScript scans the active list. An id without a lease gets a
// fresh one, since its worker may be between taking it and claiming it.
var recoverStalledScript = redis.NewScript(`
local requeued, failed = 0, 0
local seen = {}
for _, id in ipairs(redis.call("LRANGE", KEYS[1], 0, -1)) do
	if not seen[id] then
		seen[id] = true
		local lease = redis.call("ZSCORE", KEYS[2], id)
		if not lease then
			redis.call("ZADD", KEYS[2], ARGV[2], id)
		elseif tonumber(lease) < tonumber(ARGV[1]) then
			local key = ARGV[4] .. id
			redis.call("LREM", KEYS[1], 0, id)
			redis.call("ZREM", KEYS[2], id)
			local state = redis.call("HGET", key, "state")
			if state and state ~= "completed" and state ~= "failed" then
				redis.call("HDEL", key, "lock")
				local attempts = tonumber(redis.call("HGET", key, "attempts_made") or "0")
				if attempts < tonumber(ARGV[3]) then
					redis.call("HSET", key, "state", "waiting")
					redis.call("RPUSH", KEYS[3], id)
					requeued = requeued + 1
				else
					redis.call("HSET", key, "state", "failed", "failed_reason", ARGV[6], "finished_at", ARGV[1])
					redis.call("ZADD", KEYS[4], ARGV[1], id)
					if tonumber(ARGV[5]) > 0 then
						redis.call("EXPIRE", key, ARGV[5])
					end
					failed = failed + 1
				end
			end
		end
	end
end
return {requeued, failed}
`)

func (q *RedisQueue) leaseUntil(now time.Time) int64 {
	return now.Add(q.opts.LockDuration).UnixMilli()
}

// claimScript starts an attempt: it leases the id, marks the job active
// under a fresh lock token and counts the attempt. Missing or terminal jobs
// are dropped from the active list and -1 is returned.
var claimScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state or state == "completed" or state == "failed" then
	redis.call("LREM", KEYS[2], 0, ARGV[1])
	redis.call("ZREM", KEYS[3], ARGV[1])
	return -1
end
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
redis.call("HSET", KEYS[1], "state", "active", "lock", ARGV[2])
return redis.call("HINCRBY", KEYS[1], "attempts_made", 1)
`)

// renewLeaseScript extends the lease only while the caller still holds the lock
var renewLeaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "lock") ~= ARGV[1] then
	return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// errLeaseLost means another worker recovered the job mid-attempt
var errLeaseLost = errors.New("job lease lost")

func (q *RedisQueue) process(ctx context.Context, id string) {
	log := q.logger.WithField("job_id", id)
	token := uuid.NewString()

	attempt, err := claimScript.Run(ctx, q.client,
		[]string{q.jobKey(id), q.key("active"), q.key("leases")},
		id, token, q.leaseUntil(q.now()),
	).Int()
	if err != nil {
		log.WithError(err).Error("Failed to mark job active")
		return
	}
	if attempt < 0 {
		log.Warn("Job record missing or finished, skipping")
		return
	}

	job, ok, err := q.Fetch(ctx, id)
	if err != nil || !ok {
		log.WithError(err).Error("Failed to load job")
		return
	}

	log.WithField("attempt", job.AttemptsMade).Info("Processing job")
	q.mu.Lock()
	processor := q.processor
	q.mu.Unlock()

	jobCtx, cancelJob := context.WithCancel(ctx)
	stopRenewing := q.keepLease(jobCtx, id, token, cancelJob)
	result, runErr := runProcessor(jobCtx, log, processor, *job, &redisHandle{q: q, id: id})
	stopRenewing()
	cancelJob()

	// Terminal writes must land even when shutdown cancelled the job.
	writeCtx := context.WithoutCancel(ctx)
	if runErr == nil {
		if err := q.complete(writeCtx, id, token, result); err != nil {
			logFinishError(log, err, "Failed to record completion")
			return
		}
		log.Info("Job completed")
		return
	}

	if job.AttemptsMade < q.opts.Attempts {
		delay := q.opts.Backoff * time.Duration(1<<(job.AttemptsMade-1))
		if err := q.retry(writeCtx, id, token, delay); err != nil {
			logFinishError(log, err, "Failed to schedule retry")
			return
		}
		log.WithError(runErr).WithField("retry_in", delay).Warn("Job attempt failed, retrying")
		return
	}

	if err := q.fail(writeCtx, id, token, runErr.Error()); err != nil {
		logFinishError(log, err, "Failed to record failure")
		return
	}
	log.WithError(runErr).Error("Job failed")
}

func logFinishError(log logrus.FieldLogger, err error, msg string) {
	if errors.Is(err, errLeaseLost) {
		log.Warn("Job lease expired during the attempt, discarding its outcome")
		return
	}
	log.WithError(err).Error(msg)
}

// keepLease renews the job lease until the returned stop func is called.
// lost is called once if another worker has taken the job back.
func (q *RedisQueue) keepLease(ctx context.Context, id, token string, lost func()) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(q.renewEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			held, err := renewLeaseScript.Run(ctx, q.client,
				[]string{q.jobKey(id), q.key("leases")},
				token, q.leaseUntil(q.now()), id,
			).Int()
			if err != nil {
				if ctx.Err() == nil {
					q.logger.WithError(err).WithField("job_id", id).Warn("Failed to renew job lease")
				}
				continue
			}
			if held == 0 {
				q.logger.WithField("job_id", id).Warn("Job lease lost, stopping attempt")
				lost()
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// finish applies a terminal or retry transition if token still holds the
// job lock, releasing the active entry and lease in the same transaction.
func (q *RedisQueue) finish(ctx context.Context, id, token string, apply func(pipe redis.Pipeliner)) error {
	key := q.jobKey(id)
	txf := func(tx *redis.Tx) error {
		lock, err := tx.HGet(ctx, key, "lock").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if lock != token {
			return errLeaseLost
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.key("active"), 0, id)
			pipe.ZRem(ctx, q.key("leases"), id)
			pipe.HDel(ctx, key, "lock")
			apply(pipe)
			return nil
		})
		return err
	}

	for i := 0; i < 5; i++ {
		err := q.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

func (q *RedisQueue) complete(ctx context.Context, id, token string, result *types.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	progressJSON, _ := json.Marshal(Progress{Percent: 100, Stage: types.StageCompleted})
	now := q.now()
	key := q.jobKey(id)

	err = q.finish(ctx, id, token, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, key, map[string]interface{}{
			"state":       string(StateCompleted),
			"result":      string(resultJSON),
			"progress":    string(progressJSON),
			"finished_at": now.UnixMilli(),
		})
		pipe.ZAdd(ctx, q.key("completed"), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		if q.opts.RemoveOnCompleteAge > 0 {
			pipe.Expire(ctx, key, q.opts.RemoveOnCompleteAge)
		}
	})
	if err != nil {
		return err
	}
	return q.trim(ctx, q.key("completed"), q.opts.RemoveOnCompleteAge, q.opts.RemoveOnCompleteCount)
}

func (q *RedisQueue) fail(ctx context.Context, id, token, reason string) error {
	now := q.now()
	key := q.jobKey(id)

	err := q.finish(ctx, id, token, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, key, map[string]interface{}{
			"state":         string(StateFailed),
			"failed_reason": reason,
			"finished_at":   now.UnixMilli(),
		})
		pipe.ZAdd(ctx, q.key("failed"), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		if q.opts.RemoveOnFailAge > 0 {
			pipe.Expire(ctx, key, q.opts.RemoveOnFailAge)
		}
	})
	if err != nil {
		return err
	}
	return q.trim(ctx, q.key("failed"), q.opts.RemoveOnFailAge, 0)
}

func (q *RedisQueue) retry(ctx context.Context, id, token string, delay time.Duration) error {
	runAt := q.now().Add(delay).UnixMilli()
	return q.finish(ctx, id, token, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, q.jobKey(id), "state", string(StateWaiting))
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(runAt), Member: id})
	})
}

// trim drops terminal jobs older than maxAge and, when maxCount is set,
// all but the newest maxCount.
func (q *RedisQueue) trim(ctx context.Context, setKey string, maxAge time.Duration, maxCount int) error {
	var ids []string

	if maxAge > 0 {
		cutoff := q.now().Add(-maxAge).UnixMilli()
		old, err := q.client.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(cutoff, 10),
		}).Result()
		if err != nil {
			return err
		}
		ids = append(ids, old...)
	}

	if maxCount > 0 {
		excess, err := q.client.ZRange(ctx, setKey, 0, -int64(maxCount)-1).Result()
		if err != nil {
			return err
		}
		ids = append(ids, excess...)
	}

	if len(ids) == 0 {
		return nil
	}

	members := make([]interface{}, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = q.jobKey(id)
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, setKey, members...)
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

func decodeJob(vals map[string]string) (*Job, error) {
	job := &Job{
		ID:            vals["id"],
		Name:          vals["name"],
		State:         State(vals["state"]),
		FailureReason: vals["failed_reason"],
	}

	if raw := vals["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Payload); err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
	}
	if raw := vals["progress"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Progress); err != nil {
			return nil, fmt.Errorf("progress: %w", err)
		}
	}
	if raw := vals["result"]; raw != "" {
		var result types.Result
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("result: %w", err)
		}
		job.Result = &result
	}
	if raw := vals["attempts_made"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("attempts_made: %w", err)
		}
		job.AttemptsMade = n
	}
	if raw := vals["created_at"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
		job.CreatedAt = time.UnixMilli(ms)
	}
	if raw := vals["finished_at"]; raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("finished_at: %w", err)
		}
		finished := time.UnixMilli(ms)
		job.FinishedAt = &finished
	}
	return job, nil
}

type redisHandle struct {
	q  *RedisQueue
	id string
}

func (h *redisHandle) ID() string { return h.id }

func (h *redisHandle) UpdateProgress(ctx context.Context, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return updateProgressScript.Run(ctx, h.q.client, []string{h.q.jobKey(h.id)}, string(data)).Err()
}

// updateProgressScript only touches live jobs so a late write can neither
// resurrect a trimmed hash nor change a terminal job.
var updateProgressScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state or state == "completed" or state == "failed" then
	return 0
end
redis.call("HSET", KEYS[1], "progress", ARGV[1])
return 1
`)

func (h *redisHandle) State(ctx context.Context) (State, error) {
	state, err := h.q.client.HGet(ctx, h.q.jobKey(h.id), "state").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", err
	}
	return State(state), nil
}
