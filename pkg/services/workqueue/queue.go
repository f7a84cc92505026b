package workqueue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gla-ilr/ilr-engine/pkg/retry"
)

// RetryConfig configures retry behavior for failed tasks.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration (cap)
	BackoffFactor  float64       // Multiplier for exponential backoff
	// IsRetryable decides whether an error is transient. Defaults to retry.IsRetryable.
	IsRetryable func(error) bool
}

// DefaultRetryConfig retries transient database failures a few times.
// Backoff schedule: 2s, 4s, 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		IsRetryable:    retry.IsRetryable,
	}
}

// DefaultHistoryLimit is how many finished tasks are kept for status queries.
const DefaultHistoryLimit = 100

// ErrShuttingDown is passed to abandoned tasks that were still pending when
// the queue shut down.
var ErrShuttingDown = errors.New("work queue shutting down")

// Queue manages background task execution with configurable concurrency control.
// The concurrency strategy determines how tasks are allowed to run:
// - SerializedStrategy: one task at a time (default)
// - ThrottledStrategy: up to N concurrent tasks
//
// Finished tasks are kept for status queries until more than the history
// limit have accumulated; the oldest are then dropped.
type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	cancelled bool
	// draining is set by Shutdown: running tasks finish, nothing new starts.
	draining bool

	// Concurrency control strategy
	strategy ConcurrencyStrategy

	// Retry configuration for transient errors
	retryConfig RetryConfig

	historyLimit int

	// done is closed when all tasks complete
	done chan struct{}
	// wg tracks running goroutines
	wg sync.WaitGroup

	// Cancellation context for running tasks
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(config RetryConfig) QueueOption {
	return func(q *Queue) {
		if config.IsRetryable == nil {
			config.IsRetryable = retry.IsRetryable
		}
		q.retryConfig = config
	}
}

// WithHistoryLimit caps the number of finished tasks kept in memory.
func WithHistoryLimit(limit int) QueueOption {
	return func(q *Queue) {
		if limit > 0 {
			q.historyLimit = limit
		}
	}
}

// New creates a new work queue with the given options.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:        make([]*TaskState, 0),
		strategy:     NewSerializedStrategy(),
		retryConfig:  DefaultRetryConfig(),
		historyLimit: DefaultHistoryLimit,
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue adds a task to the queue and attempts to start eligible tasks.
// A task offered to a stopped queue is abandoned with ErrShuttingDown.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	if q.cancelled || q.draining {
		q.mu.Unlock()
		q.logger.Warn("queue stopped, rejecting enqueue",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		q.abandon(NewTaskState(task), ErrShuttingDown)
		return
	}
	defer q.mu.Unlock()

	// Reset done channel if it was closed from a previous batch
	q.resetDoneLocked()

	state := NewTaskState(task)
	q.tasks = append(q.tasks, state)

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()))

	q.tryStartTasksLocked()
}

// tryStartTasksLocked starts pending tasks in FIFO order while the strategy allows.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.cancelled || q.draining {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}
		if !q.strategy.CanStart() {
			return
		}

		q.strategy.OnStart()
		ts.SetStatus(TaskStatusRunning)

		q.logger.Info("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask executes a task with retry logic for transient errors.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	var lastErr error

	for attempt := 0; attempt <= q.retryConfig.MaxRetries; attempt++ {
		// Wait before retry (skip on first attempt)
		if attempt > 0 {
			backoff := q.calculateBackoff(attempt)
			q.logger.Info("retrying task after backoff",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", q.retryConfig.MaxRetries),
				zap.Duration("backoff", backoff))

			select {
			case <-q.ctx.Done():
				lastErr = q.ctx.Err()
				q.abandon(ts, lastErr)
				q.completeTask(ts, lastErr)
				return
			case <-time.After(backoff):
			}
		}

		err := ts.Task.Execute(q.ctx, q)
		if err == nil {
			q.completeTask(ts, nil)
			return
		}

		lastErr = err

		if errors.Is(err, context.Canceled) {
			break
		}

		if !q.retryConfig.IsRetryable(err) {
			q.logger.Warn("non-retryable error, failing task immediately",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Error(err))
			break
		}

		if attempt >= q.retryConfig.MaxRetries {
			q.logger.Error("task failed after max retries",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("retry_count", ts.GetRetryCount()),
				zap.Error(err))
			break
		}

		ts.IncrementRetryCount()
		q.logger.Warn("retryable error encountered",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", q.retryConfig.MaxRetries),
			zap.Error(err))
	}

	q.abandon(ts, lastErr)
	q.completeTask(ts, lastErr)
}

// abandon lets a task that will not complete release what it holds. It runs
// on the task's goroutine, outside the queue lock.
func (q *Queue) abandon(ts *TaskState, err error) {
	h, ok := ts.Task.(AbandonHandler)
	if !ok {
		return
	}
	q.logger.Info("abandoning task",
		zap.String("task_id", ts.Task.ID()),
		zap.String("task_name", ts.Task.Name()),
		zap.Error(err))
	h.Abandon(context.WithoutCancel(q.ctx), err)
}

// calculateBackoff computes the backoff duration for a retry attempt.
// Uses exponential backoff with jitter.
func (q *Queue) calculateBackoff(attempt int) time.Duration {
	backoff := float64(q.retryConfig.InitialBackoff) *
		math.Pow(q.retryConfig.BackoffFactor, float64(attempt-1))

	if backoff > float64(q.retryConfig.MaxBackoff) {
		backoff = float64(q.retryConfig.MaxBackoff)
	}

	// ±10% jitter
	jitter := backoff * 0.1 * (rand.Float64()*2 - 1)

	return time.Duration(backoff + jitter)
}

// completeTask records the outcome of a finished task: completed when err is
// nil, cancelled when err is a context cancellation, failed otherwise.
func (q *Queue) completeTask(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete()

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted)
		q.logger.Info("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()))
	case errors.Is(err, context.Canceled):
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.SetError(err)
		ts.SetStatus(TaskStatusFailed)
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()),
			zap.Error(err))
	}

	q.pruneHistoryLocked()

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
		return
	}

	q.tryStartTasksLocked()
}

// pruneHistoryLocked drops the oldest finished tasks beyond the history limit.
// Must be called with lock held.
func (q *Queue) pruneHistoryLocked() {
	finished := 0
	for _, ts := range q.tasks {
		if ts.GetStatus().IsTerminal() {
			finished++
		}
	}
	excess := finished - q.historyLimit
	if excess <= 0 {
		return
	}

	kept := q.tasks[:0]
	for _, ts := range q.tasks {
		if excess > 0 && ts.GetStatus().IsTerminal() {
			excess--
			continue
		}
		kept = append(kept, ts)
	}
	clear(q.tasks[len(kept):])
	q.tasks = kept
}

// allTasksDoneLocked returns true if all tasks are in a terminal state.
// Must be called with lock held.
func (q *Queue) allTasksDoneLocked() bool {
	for _, ts := range q.tasks {
		if !ts.GetStatus().IsTerminal() {
			return false
		}
	}
	return true
}

// closeDoneLocked safely closes the done channel.
// Must be called with lock held.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
		// Already closed
	default:
		close(q.done)
	}
}

// resetDoneLocked recreates the done channel if it was closed.
// This allows the queue to be reused for multiple batches of work.
// Must be called with lock held.
func (q *Queue) resetDoneLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}
}

func (q *Queue) snapshotsLocked() []TaskSnapshot {
	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// GetTasks returns a snapshot of all tasks still held by the queue.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotsLocked()
}

// GetTask returns the snapshot of one task, or false when it is unknown or
// has been pruned from the history.
func (q *Queue) GetTask(id string) (TaskSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ts := range q.tasks {
		if ts.Task.ID() == id {
			return ts.Snapshot(), true
		}
	}
	return TaskSnapshot{}, false
}

// Wait blocks until all tasks complete or the context is cancelled.
// Returns nil if all tasks completed successfully or queue is empty.
// Returns the first task error if any task failed.
// Returns ctx.Err() if the context was cancelled.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, ts := range q.tasks {
			if ts.GetStatus() == TaskStatusFailed {
				return ts.GetError()
			}
		}
		return nil
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}
}

// Cancel marks the queue as cancelled, signals running tasks to stop,
// and stops accepting new tasks. Pending tasks are abandoned.
func (q *Queue) Cancel() {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}

	q.cancelled = true
	q.logger.Info("queue cancelled, signaling running tasks to stop")

	q.cancel()
	dropped := q.dropPendingLocked()
	q.mu.Unlock()

	for _, ts := range dropped {
		q.abandon(ts, context.Canceled)
	}
}

// dropPendingLocked cancels every task that has not started and returns them.
// Must be called with lock held.
func (q *Queue) dropPendingLocked() []*TaskState {
	var dropped []*TaskState
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
			dropped = append(dropped, ts)
		}
	}
	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
	}
	return dropped
}

// Shutdown stops accepting work, abandons pending tasks and lets running
// tasks finish. If ctx expires first the running tasks are cancelled and
// Shutdown waits for them to return before reporting ctx.Err().
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.draining = true
	dropped := q.dropPendingLocked()
	q.mu.Unlock()

	for _, ts := range dropped {
		q.abandon(ts, ErrShuttingDown)
	}

	stopped := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		q.Cancel()
		return nil
	case <-ctx.Done():
	}

	q.logger.Warn("shutdown deadline reached, cancelling running tasks")
	q.Cancel()
	<-stopped
	return ctx.Err()
}

// TaskCount returns the number of tasks held by the queue.
func (q *Queue) TaskCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Progress returns a progress summary.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.tasks)}
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Percentage returns the completion percentage (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	done := p.Completed + p.Failed + p.Cancelled
	return (done * 100) / p.Total
}
