package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// testTask is a simple task for testing.
type testTask struct {
	BaseTask
	executeFunc func(ctx context.Context, enqueuer TaskEnqueuer) error
}

func newTestTask(name string, fn func(ctx context.Context, enqueuer TaskEnqueuer) error) *testTask {
	return &testTask{
		BaseTask:    NewBaseTask(name),
		executeFunc: fn,
	}
}

func (t *testTask) Execute(ctx context.Context, enqueuer TaskEnqueuer) error {
	if t.executeFunc != nil {
		return t.executeFunc(ctx, enqueuer)
	}
	return nil
}

// abandonableTask records the reason it was abandoned.
type abandonableTask struct {
	*testTask
	mu     sync.Mutex
	reason error
	calls  int
}

func newAbandonableTask(name string, fn func(ctx context.Context, enqueuer TaskEnqueuer) error) *abandonableTask {
	return &abandonableTask{testTask: newTestTask(name, fn)}
}

func (t *abandonableTask) Abandon(ctx context.Context, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	t.reason = err
}

func (t *abandonableTask) abandoned() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls, t.reason
}

func noRetries() QueueOption {
	return WithRetryConfig(RetryConfig{MaxRetries: 0})
}

func waitFor(t *testing.T, q *Queue) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return q.Wait(ctx)
}

// concurrencyTracker records the highest number of tasks seen running at once.
type concurrencyTracker struct {
	running int32
	mu      sync.Mutex
	max     int32
}

func (p *concurrencyTracker) task(name string) *testTask {
	return newTestTask(name, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		current := atomic.AddInt32(&p.running, 1)
		p.mu.Lock()
		if current > p.max {
			p.max = current
		}
		p.mu.Unlock()

		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&p.running, -1)
		return nil
	})
}

func (p *concurrencyTracker) maxConcurrent() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q := New(zap.NewNop())

	executed := false
	q.Enqueue(newTestTask("test-task", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		executed = true
		return nil
	}))

	if err := waitFor(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !executed {
		t.Error("task was not executed")
	}
	if p := q.Progress(); p.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", p.Completed)
	}
}

func TestQueue_TaskFailure(t *testing.T) {
	q := New(zap.NewNop(), noRetries())

	expectedErr := errors.New("task failed")
	q.Enqueue(newTestTask("failing-task", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return expectedErr
	}))

	err := waitFor(t, q)
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected %v, got %v", expectedErr, err)
	}
	if p := q.Progress(); p.Failed != 1 {
		t.Errorf("expected 1 failed task, got %+v", p)
	}
}

func TestQueue_FailedTaskIsAbandoned(t *testing.T) {
	q := New(zap.NewNop(), noRetries())

	expectedErr := errors.New("task failed")
	task := newAbandonableTask("failing-task", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return expectedErr
	})
	q.Enqueue(task)

	_ = waitFor(t, q)
	calls, reason := task.abandoned()
	if calls != 1 || !errors.Is(reason, expectedErr) {
		t.Errorf("expected one abandon with %v, got %d with %v", expectedErr, calls, reason)
	}
}

func TestQueue_RetriesTransientErrors(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
	}))

	var calls int32
	task := newTestTask("flaky", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	q.Enqueue(task)

	if err := waitFor(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	snap, ok := q.GetTask(task.ID())
	if !ok {
		t.Fatal("task not found")
	}
	if snap.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", snap.RetryCount)
	}
}

func TestQueue_DoesNotRetryPermanentErrors(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
	}))

	var calls int32
	q.Enqueue(newTestTask("broken", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("invalid input syntax")
	}))

	if err := waitFor(t, q); err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestSerializedStrategy_RunsOneAtATime(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewSerializedStrategy()))
	tracker := &concurrencyTracker{}

	for i := 0; i < 3; i++ {
		q.Enqueue(tracker.task(fmt.Sprintf("task-%d", i)))
	}

	if err := waitFor(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tracker.maxConcurrent(); got != 1 {
		t.Errorf("expected max 1 concurrent task, got %d", got)
	}
}

func TestSerializedStrategy_PreservesOrder(t *testing.T) {
	q := New(zap.NewNop())

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		q.Enqueue(newTestTask(name, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}))
	}

	if err := waitFor(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"first", "second", "third"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestThrottledStrategy_RespectsLimit(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewThrottledStrategy(2)))
	tracker := &concurrencyTracker{}

	for i := 0; i < 6; i++ {
		q.Enqueue(tracker.task(fmt.Sprintf("task-%d", i)))
	}

	if err := waitFor(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tracker.maxConcurrent(); got != 2 {
		t.Errorf("expected max 2 concurrent tasks, got %d", got)
	}
}

func TestStrategyFor(t *testing.T) {
	if _, ok := StrategyFor(1).(*SerializedStrategy); !ok {
		t.Error("expected SerializedStrategy for one worker")
	}
	if _, ok := StrategyFor(0).(*SerializedStrategy); !ok {
		t.Error("expected SerializedStrategy for zero workers")
	}
	if _, ok := StrategyFor(4).(*ThrottledStrategy); !ok {
		t.Error("expected ThrottledStrategy for four workers")
	}
}

func TestQueue_TaskEnqueuesMoreTasks(t *testing.T) {
	q := New(zap.NewNop())

	var followUpRan atomic.Bool
	q.Enqueue(newTestTask("parent", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		enqueuer.Enqueue(newTestTask("child", func(ctx context.Context, enqueuer TaskEnqueuer) error {
			followUpRan.Store(true)
			return nil
		}))
		return nil
	}))

	if err := waitFor(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !followUpRan.Load() {
		t.Error("follow-up task did not run")
	}
}

func TestQueue_CancelRunningAndPending(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	q.Enqueue(newTestTask("blocking", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	q.Enqueue(newTestTask("pending", nil))

	<-started
	q.Cancel()

	if err := waitFor(t, q); err != nil {
		t.Fatalf("cancelled tasks should not report failure, got %v", err)
	}
	p := q.Progress()
	if p.Cancelled != 2 {
		t.Errorf("expected 2 cancelled tasks, got %+v", p)
	}

	q.Enqueue(newTestTask("after-cancel", nil))
	if q.TaskCount() != 2 {
		t.Errorf("enqueue after cancel should be ignored, have %d tasks", q.TaskCount())
	}
}

func TestQueue_ShutdownWaitsForRunningTasks(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	q.Enqueue(newTestTask("slow", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			sawCancel.Store(true)
			return ctx.Err()
		}
	}))
	pending := newAbandonableTask("pending", nil)
	q.Enqueue(pending)

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- q.Shutdown(ctx) }()

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-result:
		t.Fatalf("shutdown returned while a task was still running: %v", err)
	default:
	}
	close(release)

	if err := <-result; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawCancel.Load() {
		t.Error("running task was cancelled instead of drained")
	}
	p := q.Progress()
	if p.Completed != 1 || p.Cancelled != 1 {
		t.Errorf("expected 1 completed and 1 cancelled, got %+v", p)
	}
	if calls, reason := pending.abandoned(); calls != 1 || !errors.Is(reason, ErrShuttingDown) {
		t.Errorf("pending task should be abandoned with ErrShuttingDown, got %d with %v", calls, reason)
	}
}

func TestQueue_ShutdownDeadlineCancelsRunningTasks(t *testing.T) {
	q := New(zap.NewNop(), noRetries())

	started := make(chan struct{})
	task := newAbandonableTask("stuck", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	q.Enqueue(task)

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := q.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if p := q.Progress(); p.Cancelled != 1 || p.Running != 0 {
		t.Errorf("expected the task cancelled and settled, got %+v", p)
	}
	if calls, reason := task.abandoned(); calls != 1 || !errors.Is(reason, context.Canceled) {
		t.Errorf("expected one abandon with context.Canceled, got %d with %v", calls, reason)
	}
}

func TestQueue_EnqueueAfterShutdownAbandonsTask(t *testing.T) {
	q := New(zap.NewNop())
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	late := newAbandonableTask("late", nil)
	q.Enqueue(late)

	if q.TaskCount() != 0 {
		t.Errorf("task should not be queued after shutdown, have %d", q.TaskCount())
	}
	if calls, reason := late.abandoned(); calls != 1 || !errors.Is(reason, ErrShuttingDown) {
		t.Errorf("expected abandon with ErrShuttingDown, got %d with %v", calls, reason)
	}
}

func TestQueue_HistoryLimitDropsOldestFinished(t *testing.T) {
	q := New(zap.NewNop(), WithHistoryLimit(2))

	var ids []string
	for i := 0; i < 4; i++ {
		task := newTestTask(fmt.Sprintf("task-%d", i), nil)
		ids = append(ids, task.ID())
		q.Enqueue(task)
		if err := waitFor(t, q); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if q.TaskCount() != 2 {
		t.Fatalf("expected 2 tasks in history, got %d", q.TaskCount())
	}
	if _, ok := q.GetTask(ids[0]); ok {
		t.Error("oldest task should have been pruned")
	}
	if _, ok := q.GetTask(ids[3]); !ok {
		t.Error("newest task should still be present")
	}
}

func TestQueue_EmptyQueue(t *testing.T) {
	q := New(zap.NewNop())
	if err := q.Wait(context.Background()); err != nil {
		t.Errorf("expected nil for empty queue, got %v", err)
	}
	if p := q.Progress(); p.Percentage() != 100 {
		t.Errorf("empty queue should report 100%%, got %d", p.Percentage())
	}
}

func TestTaskSnapshot(t *testing.T) {
	task := newTestTask("snap", nil)
	ts := NewTaskState(task)
	ts.SetStatus(TaskStatusRunning)
	ts.SetError(errors.New("boom"))
	ts.IncrementRetryCount()

	snap := ts.Snapshot()
	if snap.ID != task.ID() || snap.Name != "snap" {
		t.Errorf("unexpected identity %+v", snap)
	}
	if snap.Status != TaskStatusRunning || snap.StartedAt == nil {
		t.Errorf("expected running with start time, got %+v", snap)
	}
	if snap.Error != "boom" || snap.RetryCount != 1 {
		t.Errorf("unexpected error fields %+v", snap)
	}
}

func TestProgress_Percentage(t *testing.T) {
	tests := []struct {
		p    Progress
		want int
	}{
		{Progress{}, 100},
		{Progress{Total: 4, Completed: 1}, 25},
		{Progress{Total: 4, Completed: 1, Failed: 1, Cancelled: 2}, 100},
		{Progress{Total: 3, Running: 3}, 0},
	}
	for _, tt := range tests {
		if got := tt.p.Percentage(); got != tt.want {
			t.Errorf("%+v: expected %d, got %d", tt.p, tt.want, got)
		}
	}
}
