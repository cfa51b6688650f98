package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SelectOptions describes the durable backend to probe at startup
type SelectOptions struct {
	Addr           string
	Password       string
	DB             int
	ConnectTimeout time.Duration
	Redis          RedisOptions
}

// Select probes Redis once. A reachable server yields the durable queue;
// any failure closes the client and falls back to the in-process queue
// for the rest of the process lifetime.
func Select(ctx context.Context, opts SelectOptions, logger logrus.FieldLogger) Queue {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: timeout,
		MaxRetries:  -1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.WithError(err).WithField("addr", opts.Addr).
			Warn("Redis unavailable, using in-memory queue (jobs will not survive a restart)")
		return NewMemoryQueue(logger)
	}

	logger.WithField("addr", opts.Addr).Info("Connected to Redis, using durable queue")
	return NewRedisQueue(client, opts.Redis, logger)
}
