package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is the interface that all work queue tasks must implement.
type Task interface {
	// ID returns a unique identifier for this task.
	ID() string

	// Name returns a human-readable name.
	Name() string

	// ReadsSource returns true if this task reads from a source system.
	// Source-reading tasks are throttled separately from tasks that only
	// touch the internal stores.
	ReadsSource() bool

	// Execute runs the task. It receives:
	// - ctx: the queue's context, cancelled only on shutdown
	// - enqueuer: allows the task to enqueue follow-up tasks
	// Returns an error if the task fails.
	Execute(ctx context.Context, enqueuer TaskEnqueuer) error
}

// SequencedTask is implemented by tasks that must not run concurrently with
// other tasks sharing the same key.
type SequencedTask interface {
	SequenceKey() string
}

// ResultTask is implemented by tasks that expose a result once completed.
type ResultTask interface {
	Result() any
}

// TaskEnqueuer allows tasks to enqueue follow-up tasks.
type TaskEnqueuer interface {
	Enqueue(task Task) error
}

// TaskState holds the runtime state of a task.
type TaskState struct {
	Task        Task
	Status      TaskStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       error
	RetryCount  int

	// after is the task this one waits for. It starts only once after is
	// terminal, whatever the outcome.
	after *TaskState

	mu sync.RWMutex
}

// NewTaskState creates a new TaskState wrapping a task.
func NewTaskState(task Task) *TaskState {
	return &TaskState{
		Task:   task,
		Status: TaskStatusPending,
	}
}

// GetStatus returns the current status (thread-safe).
func (ts *TaskState) GetStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Status
}

// SetStatus updates the status and timestamps (thread-safe).
func (ts *TaskState) SetStatus(status TaskStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.Status = status
	now := time.Now()

	switch status {
	case TaskStatusRunning:
		ts.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		ts.CompletedAt = &now
	}
}

// SetError sets the error (thread-safe).
func (ts *TaskState) SetError(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Error = err
}

// GetError returns the error (thread-safe).
func (ts *TaskState) GetError() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Error
}

// IncrementRetryCount records one more retry and returns the new count.
func (ts *TaskState) IncrementRetryCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.RetryCount++
	return ts.RetryCount
}

// GetRetryCount returns the number of retries so far.
func (ts *TaskState) GetRetryCount() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.RetryCount
}

// Snapshot returns an immutable copy of the task state.
func (ts *TaskState) Snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	snap := TaskSnapshot{
		ID:          ts.Task.ID(),
		Name:        ts.Task.Name(),
		ReadsSource: ts.Task.ReadsSource(),
		Status:      ts.Status,
		StartedAt:   ts.StartedAt,
		CompletedAt: ts.CompletedAt,
		RetryCount:  ts.RetryCount,
	}
	if ts.Error != nil {
		snap.Error = ts.Error.Error()
	}
	if ts.after != nil {
		snap.After = ts.after.Task.ID()
	}
	if rt, ok := ts.Task.(ResultTask); ok && ts.Status == TaskStatusCompleted {
		snap.Result = rt.Result()
	}
	return snap
}

// TaskSnapshot is an immutable view of task state for serialization.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ReadsSource bool       `json:"reads_source"`
	Status      TaskStatus `json:"state"`
	After       string     `json:"after,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      any        `json:"result,omitempty"`
}

// BaseTask provides common task functionality.
// Embed this in concrete task implementations.
type BaseTask struct {
	id          string
	name        string
	readsSource bool
	key         string
}

// NewBaseTask creates a new base task.
func NewBaseTask(name string, readsSource bool) BaseTask {
	return BaseTask{
		id:          uuid.New().String(),
		name:        name,
		readsSource: readsSource,
	}
}

// NewSequencedTask creates a base task that never runs alongside another
// task with the same key.
func NewSequencedTask(name, key string, readsSource bool) BaseTask {
	t := NewBaseTask(name, readsSource)
	t.key = key
	return t
}

// ID returns the task ID.
func (t BaseTask) ID() string {
	return t.id
}

// Name returns the task name.
func (t BaseTask) Name() string {
	return t.name
}

// ReadsSource returns whether this task reads from a source system.
func (t BaseTask) ReadsSource() bool {
	return t.readsSource
}

// SequenceKey returns the sequencing key, empty when the task is unsequenced.
func (t BaseTask) SequenceKey() string {
	return t.key
}
