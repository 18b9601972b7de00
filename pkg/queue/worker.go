package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/praxis-platform/praxis/pkg/models"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker pulling tasks off the pool's channel.
type Worker struct {
	id       string
	pool     *Pool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

// NewWorker creates a queue worker bound to its pool.
func NewWorker(id string, pool *Pool) *Worker {
	return &Worker{
		id:           id,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop after its current task and waits for
// it to finish. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         w.status,
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		case task := <-w.pool.taskCh:
			w.pool.sink.SetQueueDepth(len(w.pool.taskCh))
			w.process(ctx, task)
		}
	}
}

// process runs one claimed task end to end.
func (w *Worker) process(ctx context.Context, task *models.Task) {
	log := slog.With("task_id", task.ID, "worker_id", w.id)
	log.Info("Task claimed")

	w.setStatus(WorkerStatusWorking, task.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	timeout := w.pool.config.TaskTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	taskCtx, cancelTask := context.WithTimeout(ctx, timeout)
	defer cancelTask()

	w.pool.register(task.ID, w.id, cancelTask)

	started := time.Now()
	result := w.pool.executor.Execute(taskCtx, task)
	orphaned := w.pool.unregister(task.ID)

	result = w.synthesizeResult(taskCtx, result, orphaned, timeout)

	w.pool.sink.RecordTask(string(result.Status), time.Since(started).Seconds())
	w.pool.finish(task, result)

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("Task processing complete", "status", result.Status)
}

// synthesizeResult guards against nil or status-less executor results and
// folds the context outcome into a terminal status.
func (w *Worker) synthesizeResult(taskCtx context.Context, result *ExecutionResult, orphaned bool, timeout time.Duration) *ExecutionResult {
	if result == nil {
		result = &ExecutionResult{}
	}
	if result.Status == "" {
		switch {
		case orphaned:
			result.Status = StatusTimedOut
			result.Err = fmt.Errorf("task recovered as orphan: no progress reported")
		case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
			result.Status = StatusTimedOut
			result.Err = fmt.Errorf("task timed out after %v", timeout)
		case errors.Is(taskCtx.Err(), context.Canceled):
			result.Status = StatusCancelled
			result.Err = context.Canceled
		case result.Err != nil:
			result.Status = StatusFailed
		default:
			result.Status = StatusCompleted
		}
	}
	// Orphan recovery overrides a plain cancellation status: the cancel
	// came from the scanner, not a caller.
	if orphaned && result.Status == StatusCancelled {
		result.Status = StatusTimedOut
	}
	return result
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()

	busy := 0
	w.mu.Unlock()
	for _, worker := range w.pool.workers {
		if worker.Health().Status == WorkerStatusWorking {
			busy++
		}
	}
	w.pool.sink.SetActiveWorkers(busy)
}
