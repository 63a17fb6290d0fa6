package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/new-bakery/nga/pkg/retry"
)

// ErrQueueClosed is returned when enqueuing into a cancelled queue.
var ErrQueueClosed = errors.New("work queue closed")

// DefaultRetryConfig is the retry policy for transient task failures:
// 2s, 4s, 8s with 10% jitter, capped at 30s.
func DefaultRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Queue manages background task execution with configurable concurrency
// control. It runs for the life of the process; tasks are never bound to
// the request that submitted them.
//
// The concurrency strategy determines how many tasks of each lane run at
// once. On top of the strategy:
//   - tasks with the same SequenceKey never run concurrently
//   - a chained task starts only after its predecessor is terminal
type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	byID      map[string]*TaskState
	running   map[string]int // sequence key -> running tasks
	cancelled bool

	// Concurrency control strategy
	strategy ConcurrencyStrategy

	// retries applies to errors retry.IsRetryable accepts
	retries *retry.Config

	// history is how many terminal tasks are kept for Lookup (0 = unlimited)
	history int

	// done is closed when all tasks complete
	done chan struct{}
	// wg tracks running goroutines
	wg sync.WaitGroup

	// Cancellation context for running tasks
	ctx    context.Context
	cancel context.CancelFunc

	// Callbacks
	onUpdate func([]TaskSnapshot)

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

// WithRetryConfig replaces the retry policy. A nil config disables retries.
func WithRetryConfig(cfg *retry.Config) QueueOption {
	return func(q *Queue) {
		if cfg == nil {
			cfg = &retry.Config{}
		}
		q.retries = cfg
	}
}

// WithHistory caps how many finished tasks stay queryable.
func WithHistory(n int) QueueOption {
	return func(q *Queue) {
		if n >= 0 {
			q.history = n
		}
	}
}

// New creates a new work queue with the given options.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:    make([]*TaskState, 0),
		byID:     make(map[string]*TaskState),
		running:  make(map[string]int),
		strategy: NewSerializedStrategy(),
		retries:  DefaultRetryConfig(),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// SetOnUpdate sets the callback invoked when task state changes.
// The callback receives a snapshot of all tasks.
//
// WARNING: The callback is invoked while holding the queue's internal lock.
// Do NOT call any Queue methods from within the callback or it will deadlock.
func (q *Queue) SetOnUpdate(callback func([]TaskSnapshot)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onUpdate = callback
}

// Enqueue adds a task to the queue and attempts to start eligible tasks.
func (q *Queue) Enqueue(task Task) error {
	return q.EnqueueChain(task)
}

// EnqueueChain adds tasks that run one after another: each task starts only
// once the previous one has completed or failed. The chain is enqueued
// atomically.
func (q *Queue) EnqueueChain(tasks ...Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		for _, task := range tasks {
			q.logger.Warn("queue cancelled, ignoring enqueue",
				zap.String("task_id", task.ID()),
				zap.String("task_name", task.Name()))
		}
		return ErrQueueClosed
	}

	// Reset done channel if it was closed from a previous batch
	q.resetDoneLocked()

	var prev *TaskState
	for _, task := range tasks {
		if _, exists := q.byID[task.ID()]; exists {
			return fmt.Errorf("task %s already enqueued", task.ID())
		}
		state := NewTaskState(task)
		state.after = prev
		q.tasks = append(q.tasks, state)
		q.byID[task.ID()] = state
		prev = state

		fields := []zap.Field{
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()),
			zap.Bool("reads_source", task.ReadsSource()),
		}
		if state.after != nil {
			fields = append(fields, zap.String("after", state.after.Task.ID()))
		}
		q.logger.Info("task enqueued", fields...)
	}

	q.notifyUpdateLocked()
	q.tryStartTasksLocked()
	return nil
}

// tryStartTasksLocked checks constraints and starts eligible tasks.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.cancelled {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}
		if ts.after != nil && !ts.after.GetStatus().IsTerminal() {
			continue
		}
		key := sequenceKey(ts.Task)
		if key != "" && q.running[key] > 0 {
			continue
		}

		readsSource := ts.Task.ReadsSource()
		if readsSource && !q.strategy.CanStartSource() {
			continue
		}
		if !readsSource && !q.strategy.CanStartInternal() {
			continue
		}

		if readsSource {
			q.strategy.OnStartSource()
		} else {
			q.strategy.OnStartInternal()
		}
		if key != "" {
			q.running[key]++
		}
		ts.SetStatus(TaskStatusRunning)
		q.notifyUpdateLocked()

		q.logger.Info("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask runs a task until it succeeds, fails permanently, or exhausts
// its retries. Only errors retry.IsRetryable accepts are retried.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	log := q.logger.With(zap.String("task_id", ts.Task.ID()), zap.String("task_name", ts.Task.Name()))

	for attempt := 1; ; attempt++ {
		err := q.execute(ts)
		if err == nil {
			q.completeTaskSuccess(ts)
			return
		}

		switch {
		case errors.Is(err, context.Canceled):
		case !retry.IsRetryable(err):
			log.Warn("Task failed with a permanent error", zap.Error(err))
		case attempt > q.retries.MaxRetries:
			log.Error("Task failed after retries", zap.Int("retries", ts.GetRetryCount()), zap.Error(err))
		default:
			ts.IncrementRetryCount()
			delay := q.retries.Backoff(attempt)
			log.Warn("Task hit a transient error, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", q.retries.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(err))
			if !q.sleep(delay) {
				q.completeTaskFailure(ts, q.ctx.Err())
				return
			}
			continue
		}

		q.completeTaskFailure(ts, err)
		return
	}
}

// execute runs one attempt, converting a panic into an error.
func (q *Queue) execute(ts *TaskState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return ts.Task.Execute(q.ctx, q)
}

// sleep waits for d, returning false if the queue is cancelled first.
func (q *Queue) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// releaseLocked returns the task's lane slot and sequence key.
// Must be called with lock held.
func (q *Queue) releaseLocked(ts *TaskState) {
	if ts.Task.ReadsSource() {
		q.strategy.OnCompleteSource()
	} else {
		q.strategy.OnCompleteInternal()
	}
	if key := sequenceKey(ts.Task); key != "" {
		q.running[key]--
		if q.running[key] <= 0 {
			delete(q.running, key)
		}
	}
}

// completeTaskSuccess marks a task as successfully completed.
func (q *Queue) completeTaskSuccess(ts *TaskState) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.releaseLocked(ts)

	ts.SetStatus(TaskStatusCompleted)
	q.logger.Info("task completed",
		zap.String("task_id", ts.Task.ID()),
		zap.String("task_name", ts.Task.Name()),
		zap.Int("retry_count", ts.GetRetryCount()))

	q.afterTerminalLocked()
}

// completeTaskFailure marks a task as failed or cancelled.
func (q *Queue) completeTaskFailure(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.releaseLocked(ts)

	if errors.Is(err, context.Canceled) && q.cancelled {
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	} else {
		ts.SetStatus(TaskStatusFailed)
		ts.SetError(err)
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()),
			zap.Error(err))
	}

	q.afterTerminalLocked()
}

// afterTerminalLocked notifies, prunes history and starts waiting tasks.
// Must be called with lock held.
func (q *Queue) afterTerminalLocked() {
	q.notifyUpdateLocked()
	q.pruneLocked()

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
		return
	}

	q.tryStartTasksLocked()
}

// pruneLocked drops the oldest terminal tasks beyond the history limit.
// Must be called with lock held.
func (q *Queue) pruneLocked() {
	if q.history <= 0 {
		return
	}
	terminal := 0
	for _, ts := range q.tasks {
		if ts.GetStatus().IsTerminal() {
			terminal++
		}
	}
	excess := terminal - q.history
	if excess <= 0 {
		return
	}

	kept := q.tasks[:0]
	for _, ts := range q.tasks {
		if excess > 0 && ts.GetStatus().IsTerminal() {
			delete(q.byID, ts.Task.ID())
			excess--
			continue
		}
		kept = append(kept, ts)
	}
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
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
// Must be called with lock held.
func (q *Queue) resetDoneLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}
}

// notifyUpdateLocked calls the update callback with a snapshot of all tasks.
// Must be called with lock held.
func (q *Queue) notifyUpdateLocked() {
	if q.onUpdate == nil {
		return
	}

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	q.onUpdate(snapshots)
}

// Lookup returns a snapshot of the task with the given id. Tasks pruned
// from history are no longer found.
func (q *Queue) Lookup(id string) (TaskSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ts, ok := q.byID[id]
	if !ok {
		return TaskSnapshot{}, false
	}
	return ts.Snapshot(), true
}

// GetTasks returns a snapshot of all tasks.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until all tasks complete or the context is cancelled.
// Returns nil if all tasks completed successfully or queue is empty.
// Returns the first task error if any task failed.
// Returns ctx.Err() if the context was cancelled; running tasks continue.
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
		return ctx.Err()
	}
}

// Cancel marks the queue as cancelled, signals running tasks to stop,
// and stops accepting new tasks. Used on shutdown.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return
	}

	q.cancelled = true
	q.logger.Info("queue cancelled, signaling running tasks to stop")

	q.cancel()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
		}
	}

	q.notifyUpdateLocked()

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
	}
}

// Shutdown cancels the queue and waits for running tasks to return, or for
// ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.Cancel()

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsComplete returns true if all tasks have completed (success or failure).
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allTasksDoneLocked()
}

// HasFailures returns true if any task failed.
func (q *Queue) HasFailures() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusFailed {
			return true
		}
	}
	return false
}

// TaskCount returns the number of tracked tasks.
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

func sequenceKey(task Task) string {
	if st, ok := task.(SequencedTask); ok {
		return st.SequenceKey()
	}
	return ""
}
