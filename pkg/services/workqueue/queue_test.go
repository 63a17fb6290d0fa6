package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/retry"
)

// testTask is a simple task for testing.
type testTask struct {
	BaseTask
	executeFunc func(ctx context.Context, enqueuer TaskEnqueuer) error
	result      any
}

func newTestTask(name string, readsSource bool, fn func(ctx context.Context, enqueuer TaskEnqueuer) error) *testTask {
	return &testTask{
		BaseTask:    NewBaseTask(name, readsSource),
		executeFunc: fn,
	}
}

func newSequencedTestTask(name, key string, fn func(ctx context.Context, enqueuer TaskEnqueuer) error) *testTask {
	return &testTask{
		BaseTask:    NewSequencedTask(name, key, false),
		executeFunc: fn,
	}
}

func (t *testTask) Execute(ctx context.Context, enqueuer TaskEnqueuer) error {
	if t.executeFunc != nil {
		return t.executeFunc(ctx, enqueuer)
	}
	return nil
}

func (t *testTask) Result() any {
	return t.result
}

func noRetries() QueueOption {
	return WithRetryConfig(nil)
}

func waitQueue(t *testing.T, q *Queue) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return q.Wait(ctx)
}

// concurrencyGauge records the peak number of tasks inside run.
type concurrencyGauge struct {
	running int32
	peak    int32
}

func (p *concurrencyGauge) run(d time.Duration) {
	current := atomic.AddInt32(&p.running, 1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if current <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, current) {
			break
		}
	}
	time.Sleep(d)
	atomic.AddInt32(&p.running, -1)
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q := New(zap.NewNop())

	var executed atomic.Bool
	task := newTestTask("test-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		executed.Store(true)
		return nil
	})

	if err := q.Enqueue(task); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !executed.Load() {
		t.Error("task was not executed")
	}

	if p := q.Progress(); p.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", p.Completed)
	}
}

func TestQueue_TaskFailure(t *testing.T) {
	q := New(zap.NewNop(), noRetries())

	expectedErr := errors.New("task failed")
	q.Enqueue(newTestTask("failing-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return expectedErr
	}))

	err := waitQueue(t, q)
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}

	if !q.HasFailures() {
		t.Error("expected HasFailures to return true")
	}
}

func TestQueue_RetriesTransientErrors(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(&retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}))

	var attempts int32
	task := newTestTask("flaky-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	q.Enqueue(task)

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}

	snap, ok := q.Lookup(task.ID())
	if !ok {
		t.Fatal("task not found")
	}
	if snap.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", snap.RetryCount)
	}
}

func TestQueue_PermanentErrorNotRetried(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(retry.Fixed(3, time.Millisecond)))

	var attempts int32
	q.Enqueue(newTestTask("bad-credentials", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("login failed for user 'sa'")
	}))

	if err := waitQueue(t, q); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestQueue_PanicBecomesFailure(t *testing.T) {
	q := New(zap.NewNop(), noRetries())

	q.Enqueue(newTestTask("panicking-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		panic("boom")
	}))

	err := waitQueue(t, q)
	if err == nil || err.Error() != "task panicked: boom" {
		t.Errorf("expected panic error, got %v", err)
	}
}

func TestQueue_SourceTasksSerialized(t *testing.T) {
	q := New(zap.NewNop())

	gauge := &concurrencyGauge{}
	for i := 0; i < 3; i++ {
		q.Enqueue(newTestTask("source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			gauge.run(30 * time.Millisecond)
			return nil
		}))
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if peak := atomic.LoadInt32(&gauge.peak); peak != 1 {
		t.Errorf("expected source tasks to be serialized, but peak concurrency was %d", peak)
	}
}

func TestQueue_TwoLaneParallelism(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	proceed := make(chan struct{})

	q.Enqueue(newTestTask("source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		started <- struct{}{}
		<-proceed
		return nil
	}))
	q.Enqueue(newTestTask("internal-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		started <- struct{}{}
		<-proceed
		return nil
	}))

	// Both lanes must be running at once for both sends to complete.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("expected source and internal tasks to run in parallel")
		}
	}

	close(proceed)

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestThrottledStrategy_RespectsLimit(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewThrottledStrategy(2, 4)))

	gauge := &concurrencyGauge{}
	for i := 0; i < 6; i++ {
		q.Enqueue(newTestTask("source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			gauge.run(40 * time.Millisecond)
			return nil
		}))
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if peak := atomic.LoadInt32(&gauge.peak); peak > 2 {
		t.Errorf("expected at most 2 concurrent source tasks, got %d", peak)
	}
}

func TestThrottledStrategy_ClampsLimits(t *testing.T) {
	s := NewThrottledStrategy(0, -1)
	if !s.CanStartSource() || !s.CanStartInternal() {
		t.Fatal("expected a free slot in each lane")
	}
	s.OnStartSource()
	s.OnStartInternal()
	if s.CanStartSource() || s.CanStartInternal() {
		t.Error("expected limits to be clamped to 1")
	}
	s.OnCompleteSource()
	s.OnCompleteSource()
	if !s.CanStartSource() {
		t.Error("expected source slot to be free again")
	}
}

func TestQueue_SequencedTasksNeverOverlap(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewThrottledStrategy(4, 4)))

	sameKey := &concurrencyGauge{}
	for i := 0; i < 4; i++ {
		q.Enqueue(newSequencedTestTask("same-source", "source-1", func(ctx context.Context, enqueuer TaskEnqueuer) error {
			sameKey.run(20 * time.Millisecond)
			return nil
		}))
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if peak := atomic.LoadInt32(&sameKey.peak); peak != 1 {
		t.Errorf("expected tasks with one key to run one at a time, peak was %d", peak)
	}
}

func TestQueue_DifferentKeysRunInParallel(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewThrottledStrategy(4, 4)))

	started := make(chan struct{})
	proceed := make(chan struct{})
	for _, key := range []string{"source-1", "source-2"} {
		q.Enqueue(newSequencedTestTask("keyed", key, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			started <- struct{}{}
			<-proceed
			return nil
		}))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("expected tasks for different keys to run in parallel")
		}
	}
	close(proceed)

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueue_ChainRunsInOrder(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewThrottledStrategy(4, 4)))

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return func(ctx context.Context, enqueuer TaskEnqueuer) error {
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	first := newTestTask("first", true, record("first"))
	second := newTestTask("second", false, record("second"))
	if err := q.EnqueueChain(first, second); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}

	snap, _ := q.Lookup(second.ID())
	if snap.After != first.ID() {
		t.Errorf("expected second to wait on %s, got %q", first.ID(), snap.After)
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected [first second], got %v", order)
	}
}

func TestQueue_ChainContinuesAfterFailure(t *testing.T) {
	q := New(zap.NewNop(), noRetries())

	firstErr := errors.New("phase one broke")
	var secondRan atomic.Bool
	first := newTestTask("first", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return firstErr
	})
	second := newTestTask("second", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		secondRan.Store(true)
		return nil
	})
	q.EnqueueChain(first, second)

	if err := waitQueue(t, q); !errors.Is(err, firstErr) {
		t.Fatalf("expected first task error, got %v", err)
	}
	if !secondRan.Load() {
		t.Error("expected second task to run after first failed")
	}

	snap, _ := q.Lookup(second.ID())
	if snap.Status != TaskStatusCompleted {
		t.Errorf("expected second completed, got %s", snap.Status)
	}
}

func TestQueue_ChainedTaskPendingWhilePredecessorRuns(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewThrottledStrategy(4, 4)))

	started := make(chan struct{})
	proceed := make(chan struct{})
	first := newTestTask("first", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		<-proceed
		return nil
	})
	second := newTestTask("second", false, nil)
	q.EnqueueChain(first, second)

	<-started
	snap, ok := q.Lookup(second.ID())
	if !ok {
		t.Fatal("second task not found")
	}
	if snap.Status != TaskStatusPending {
		t.Errorf("expected second pending, got %s", snap.Status)
	}
	close(proceed)

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueue_ResultInSnapshot(t *testing.T) {
	q := New(zap.NewNop())

	task := newTestTask("with-result", false, nil)
	task.result = map[string]int{"relationships": 3}
	q.Enqueue(task)

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, ok := q.Lookup(task.ID())
	if !ok {
		t.Fatal("task not found")
	}
	if got, ok := snap.Result.(map[string]int); !ok || got["relationships"] != 3 {
		t.Errorf("expected result in snapshot, got %v", snap.Result)
	}
}

func TestQueue_LookupUnknown(t *testing.T) {
	q := New(zap.NewNop())
	if _, ok := q.Lookup("missing"); ok {
		t.Error("expected lookup of unknown id to fail")
	}
}

func TestQueue_HistoryPrunesOldestFinished(t *testing.T) {
	q := New(zap.NewNop(), WithHistory(2))

	var ids []string
	for i := 0; i < 4; i++ {
		task := newTestTask("task", false, nil)
		ids = append(ids, task.ID())
		q.Enqueue(task)
		if err := waitQueue(t, q); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if q.TaskCount() != 2 {
		t.Errorf("expected 2 tasks kept, got %d", q.TaskCount())
	}
	if _, ok := q.Lookup(ids[0]); ok {
		t.Error("expected oldest task to be pruned")
	}
	if _, ok := q.Lookup(ids[3]); !ok {
		t.Error("expected newest task to be kept")
	}
}

func TestQueue_TaskEnqueuesMoreTasks(t *testing.T) {
	q := New(zap.NewNop())

	var followUpRan atomic.Bool
	q.Enqueue(newTestTask("parent", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return enqueuer.Enqueue(newTestTask("child", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			followUpRan.Store(true)
			return nil
		}))
	}))

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !followUpRan.Load() {
		t.Error("expected follow-up task to run")
	}
}

func TestQueue_CancelMarksPendingCancelled(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	q.Enqueue(newTestTask("blocking-source-task", true, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	// Source lane is serialized, so this one must wait.
	pending := newTestTask("pending-source-task", true, nil)
	q.Enqueue(pending)

	q.Cancel()

	snap, _ := q.Lookup(pending.ID())
	if snap.Status != TaskStatusCancelled {
		t.Errorf("expected pending task to be cancelled, got %s", snap.Status)
	}

	if err := q.Enqueue(newTestTask("late", false, nil)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestQueue_ShutdownWaitsForRunningTasks(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	task := newTestTask("cancellable-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	q.Enqueue(task)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	snap, _ := q.Lookup(task.ID())
	if snap.Status != TaskStatusCancelled {
		t.Errorf("expected running task to end cancelled, got %s", snap.Status)
	}
}

func TestQueue_WaitContextExpires(t *testing.T) {
	q := New(zap.NewNop())
	defer q.Cancel()

	q.Enqueue(newTestTask("slow-task", false, func(ctx context.Context, enqueuer TaskEnqueuer) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := q.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestQueue_EmptyQueue(t *testing.T) {
	q := New(zap.NewNop())

	if err := q.Wait(context.Background()); err != nil {
		t.Errorf("expected nil for empty queue, got %v", err)
	}
	if !q.IsComplete() {
		t.Error("expected empty queue to be complete")
	}
}

func TestQueue_OnUpdateCallback(t *testing.T) {
	q := New(zap.NewNop())

	var mu sync.Mutex
	var seen []TaskStatus
	q.SetOnUpdate(func(snapshots []TaskSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range snapshots {
			seen = append(seen, s.Status)
		}
	})

	q.Enqueue(newTestTask("observed", false, nil))
	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1] != TaskStatusCompleted {
		t.Errorf("expected final update to report completed, got %v", seen)
	}
}

func TestTaskState_SetStatus(t *testing.T) {
	ts := NewTaskState(newTestTask("t", false, nil))

	ts.SetStatus(TaskStatusRunning)
	if ts.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}
	ts.SetStatus(TaskStatusFailed)
	if ts.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if !ts.GetStatus().IsTerminal() {
		t.Error("expected failed to be terminal")
	}
}

func TestProgress_Percentage(t *testing.T) {
	tests := []struct {
		name     string
		progress Progress
		want     int
	}{
		{"empty", Progress{}, 100},
		{"half", Progress{Total: 4, Completed: 1, Failed: 1, Pending: 2}, 50},
		{"all cancelled", Progress{Total: 2, Cancelled: 2}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.progress.Percentage(); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
