// Package asynqadp adapts the domain.Queue port onto a Redis-backed asynq
// client/server pair.
package asynqadp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/oklog/ulid/v2"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// TaskSync is the asynq task type name for a sheet sync attempt.
const TaskSync = "sync_connection"

// asynqClient is the subset of *asynq.Client the Queue depends on, so tests
// can substitute a fake without a live Redis.
type asynqClient interface {
	EnqueueContext(ctx domain.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue enqueues sync tasks onto a Redis-backed asynq queue.
type Queue struct {
	client asynqClient
}

// New dials the given Redis URI and returns a Queue backed by a real asynq
// client.
func New(redisURI string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("op=asynqadp.New: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt)}, nil
}

// NewWithClient builds a Queue around an already-constructed client, chiefly
// for unit tests that supply a fake.
func NewWithClient(c asynqClient) *Queue {
	return &Queue{client: c}
}

// EnqueueSync marshals task and enqueues it with a ULID-derived task id, a
// retry budget matching the worker's own retry-count cap, and a 24-hour
// result retention window.
func (q *Queue) EnqueueSync(ctx domain.Context, task domain.SyncTask) (string, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("op=asynqadp.EnqueueSync: %w", err)
	}
	taskID := ulid.Make().String()
	t := asynq.NewTask(TaskSync, b, asynq.TaskID(taskID))
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.MaxRetry(maxSyncRetries),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return "", fmt.Errorf("op=asynqadp.EnqueueSync: %w", err)
	}
	return info.ID, nil
}
