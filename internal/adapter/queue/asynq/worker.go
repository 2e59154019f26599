package asynqadp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/sheetsight/analytics-backend/internal/adapter/observability"
	"github.com/sheetsight/analytics-backend/internal/domain"
	"github.com/sheetsight/analytics-backend/internal/service/ratelimiter"
)

// maxSyncRetries is the retry-count ceiling after which a task is declared a
// terminal failure instead of being re-enqueued.
const maxSyncRetries = 3

// Crawler runs the nine-step sync procedure for one connection and reports
// how many rows it wrote.
type Crawler interface {
	Sync(ctx context.Context, conn domain.Connection) (rowsProcessed int, err error)
}

// Worker processes sync tasks pulled off the asynq queue.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	conns    domain.ConnectionRepo
	syncSt   domain.SyncStateRepo
	queue    domain.Queue
	limiter  *ratelimiter.CompositeLimiter
	crawler  Crawler
	notifier domain.Notifier

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewWorker constructs a Worker bound to the given Redis URI and collaborators.
func NewWorker(
	redisURI string,
	concurrency int,
	conns domain.ConnectionRepo,
	syncSt domain.SyncStateRepo,
	queue domain.Queue,
	limiter *ratelimiter.CompositeLimiter,
	crawler Crawler,
	notifier domain.Notifier,
) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("op=asynqadp.NewWorker: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(opt, asynq.Config{Concurrency: concurrency})
	mux := asynq.NewServeMux()

	w := &Worker{
		server:   srv,
		mux:      mux,
		conns:    conns,
		syncSt:   syncSt,
		queue:    queue,
		limiter:  limiter,
		crawler:  crawler,
		notifier: notifier,
		locks:    make(map[string]*sync.Mutex),
	}

	mux.HandleFunc(TaskSync, w.handleSyncTask)
	return w, nil
}

// Start begins processing tasks until the server is stopped.
func (w *Worker) Start() error { return w.server.Run(w.mux) }

// Stop gracefully shuts down the worker server.
func (w *Worker) Stop() { w.server.Shutdown() }

// connectionLock returns the mutex guarding concurrent syncs for one
// connection, creating it lazily. Entries are never removed; the map is
// bounded by the number of distinct connections ever synced by this process.
func (w *Worker) connectionLock(connectionID string) *sync.Mutex {
	w.locksMu.Lock()
	defer w.locksMu.Unlock()
	m, ok := w.locks[connectionID]
	if !ok {
		m = &sync.Mutex{}
		w.locks[connectionID] = m
	}
	return m
}

func (w *Worker) handleSyncTask(ctx context.Context, t *asynq.Task) error {
	tracer := otel.Tracer("queue.worker")
	ctx, span := tracer.Start(ctx, "SyncConnection")
	defer span.End()

	var task domain.SyncTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("op=asynqadp.handleSyncTask: %w", err)
	}
	return w.processSyncTask(ctx, task)
}

// processSyncTask contains the handler's core logic, kept separate from the
// asynq-specific wrapper above so it is directly unit-testable.
func (w *Worker) processSyncTask(ctx context.Context, task domain.SyncTask) error {
	logger := slog.Default().With(
		slog.String("connection_id", task.ConnectionID),
		slog.Int("retry_count", task.RetryCount),
	)

	conn, err := w.conns.Get(ctx, task.ConnectionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info("sync task dropped: connection no longer exists")
			return nil
		}
		return fmt.Errorf("op=asynqadp.processSyncTask: %w", err)
	}
	if conn.IsDeleted() || !conn.SyncEnabled {
		logger.Info("sync task no-op: connection disabled or soft-deleted")
		return nil
	}

	lock := w.connectionLock(task.ConnectionID)
	lock.Lock()
	defer lock.Unlock()

	if err := w.limiter.AcquireReadWrite(ctx, 2, 0); err != nil {
		return fmt.Errorf("op=asynqadp.processSyncTask: %w", err)
	}

	start := time.Now()
	rows, syncErr := w.crawler.Sync(ctx, conn)
	duration := time.Since(start)

	if syncErr != nil {
		observability.RecordSyncOutcome(task.ConnectionID, "failed", duration)
		return w.handleSyncFailure(ctx, task, syncErr, logger)
	}

	observability.RecordSyncOutcome(task.ConnectionID, "success", duration)
	observability.RecordRowsProcessed(task.ConnectionID, rows)
	// The crawler already emitted domain.EventSyncCompleted for this attempt;
	// the worker only acks on success, it does not emit a second terminal event.
	return nil
}

func (w *Worker) handleSyncFailure(ctx context.Context, task domain.SyncTask, syncErr error, logger *slog.Logger) error {
	if task.RetryCount >= maxSyncRetries {
		logger.Error("sync task exhausted retries", slog.Any("error", syncErr))
		_ = w.syncSt.Upsert(ctx, domain.SyncState{
			ConnectionID:  task.ConnectionID,
			Status:        domain.SyncFailed,
			LastErrorText: syncErr.Error(),
			LastSyncTime:  time.Now(),
		})
		if w.notifier != nil {
			conn, connErr := w.conns.Get(ctx, task.ConnectionID)
			if connErr == nil {
				_ = w.notifier.EmitToUser(ctx, conn.UserID, domain.EventSyncFailed, map[string]any{
					"connection_id": task.ConnectionID,
					"error":         syncErr.Error(),
				})
			}
		}
		return nil
	}

	logger.Warn("sync task failed, re-enqueueing", slog.Any("error", syncErr))
	_, enqErr := w.queue.EnqueueSync(ctx, domain.SyncTask{
		ConnectionID: task.ConnectionID,
		UserID:       task.UserID,
		QueuedAt:     time.Now(),
		RetryCount:   task.RetryCount + 1,
	})
	if enqErr != nil {
		return fmt.Errorf("op=asynqadp.handleSyncFailure: %w", enqErr)
	}
	return fmt.Errorf("op=asynqadp.handleSyncFailure: %w", syncErr)
}
