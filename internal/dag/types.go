package dag

import (
	"context"
	"time"
)

// TaskState represents the current state of a task within a run.
type TaskState string

const (
	// TaskStatePending indicates the task is waiting for its upstream tasks.
	TaskStatePending TaskState = "pending"
	// TaskStateRunning indicates the task is currently executing.
	TaskStateRunning TaskState = "running"
	// TaskStateSuccess indicates the task completed successfully.
	TaskStateSuccess TaskState = "success"
	// TaskStateFailed indicates the task returned an error.
	TaskStateFailed TaskState = "failed"
	// TaskStateUpstreamFailed indicates the task was skipped because an upstream task failed.
	TaskStateUpstreamFailed TaskState = "upstream_failed"
)

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskStateSuccess || s == TaskStateFailed || s == TaskStateUpstreamFailed
}

// TaskFunc is the body of a task.
type TaskFunc func(ctx context.Context) error

// Task is one node of the graph.
type Task struct {
	// ID is unique within the DAG.
	ID string

	// Upstream lists the IDs of tasks that must succeed first.
	Upstream []string

	// Run executes the task.
	Run TaskFunc
}

// DAG is a named, acyclic set of tasks plus its scheduling metadata.
type DAG struct {
	ID       string
	Tags     []string
	Schedule string
	Doc      string
	Tasks    []*Task
}

// TaskRun records one task's execution inside a DAG run.
type TaskRun struct {
	// RunID identifies the DAG run.
	RunID string `json:"run_id"`

	// TaskID is the task this record belongs to.
	TaskID string `json:"task_id"`

	// State is the current state of the task.
	State TaskState `json:"state"`

	// StartedAt is when the task started executing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the task failed.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the task ran, or zero if it never started or finished.
func (r *TaskRun) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// RunStore defines the interface for storing and retrieving task run state.
type RunStore interface {
	// SaveTaskRun saves or updates a task run.
	SaveTaskRun(ctx context.Context, run *TaskRun) error

	// GetTaskRun retrieves a task run by DAG run ID and task ID.
	GetTaskRun(ctx context.Context, runID, taskID string) (*TaskRun, error)

	// ListTaskRuns retrieves task runs with optional filtering.
	ListTaskRuns(ctx context.Context, filter RunFilter) ([]*TaskRun, error)
}

// RunFilter defines filtering criteria for listing task runs.
type RunFilter struct {
	// RunID filters by DAG run.
	RunID string

	// State filters by task state.
	State TaskState
}
