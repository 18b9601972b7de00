package queue

import (
	"context"
	"time"

	"github.com/praxis-platform/praxis/pkg/models"
)

// TaskStatus is the queue-level lifecycle status of a task.
type TaskStatus string

// Task status constants.
const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusTimedOut   TaskStatus = "timed_out"
	StatusCancelled  TaskStatus = "cancelled"
)

// ExecutionResult is what an executor returns for one task.
type ExecutionResult struct {
	Status TaskStatus
	Result *models.TaskResult
	Err    error
}

// Executor processes one claimed task. Implementations must observe
// context cancellation.
type Executor interface {
	Execute(ctx context.Context, task *models.Task) *ExecutionResult
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task *models.Task) *ExecutionResult

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task *models.Task) *ExecutionResult {
	return f(ctx, task)
}

// ResultHandler receives each task's terminal outcome.
type ResultHandler func(task *models.Task, result *ExecutionResult)

// WorkerHealth is a point-in-time snapshot of one worker.
type WorkerHealth struct {
	ID             string       `json:"id"`
	Status         WorkerStatus `json:"status"`
	CurrentTaskID  string       `json:"current_task_id,omitempty"`
	TasksProcessed int          `json:"tasks_processed"`
	LastActivity   time.Time    `json:"last_activity"`
}

// PoolHealth is a point-in-time snapshot of the pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	QueueDepth       int            `json:"queue_depth"`
	ActiveTasks      int            `json:"active_tasks"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
}
