// Package queue runs submitted tasks on a bounded in-memory worker pool.
// Submission is FIFO; a full queue rejects fast with a busy error. The
// pool keeps a cancel registry for in-flight tasks and recovers tasks
// whose progress reporting has gone silent.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/praxis-platform/praxis/pkg/config"
	"github.com/praxis-platform/praxis/pkg/fault"
	"github.com/praxis-platform/praxis/pkg/models"
	"github.com/praxis-platform/praxis/pkg/telemetry"
)

// Pool manages a set of queue workers over one shared task channel.
type Pool struct {
	config   *config.QueueConfig
	executor Executor
	sink     telemetry.Sink
	onResult ResultHandler

	taskCh   chan *models.Task
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.RWMutex
	started bool
	active  map[string]*activeTask

	orphans orphanState
}

// activeTask is the cancel-registry entry for one in-flight task.
type activeTask struct {
	workerID     string
	cancel       context.CancelFunc
	lastProgress time.Time
	orphaned     bool
}

// NewPool creates a worker pool. onResult may be nil; sink may be nil to
// disable metrics.
func NewPool(cfg *config.QueueConfig, executor Executor, sink telemetry.Sink, onResult ResultHandler) (*Pool, error) {
	if cfg == nil || executor == nil {
		return nil, fault.New(fault.CodeValidation, "pool requires a config and an executor")
	}
	if cfg.WorkerCount <= 0 {
		return nil, fault.New(fault.CodeValidation, "worker count must be positive")
	}
	if cfg.MaxQueuedTasks <= 0 {
		return nil, fault.New(fault.CodeValidation, "max queued tasks must be positive")
	}
	if sink == nil {
		sink = telemetry.NewNoop()
	}
	return &Pool{
		config:   cfg,
		executor: executor,
		sink:     sink,
		onResult: onResult,
		taskCh:   make(chan *models.Task, cfg.MaxQueuedTasks),
		workers:  make([]*Worker, 0, cfg.WorkerCount),
		stopCh:   make(chan struct{}),
		active:   make(map[string]*activeTask),
	}, nil
}

// Start spawns the workers and the orphan detection loop. Safe to call
// more than once; later calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true
	p.mu.Unlock()

	slog.Info("Starting worker pool", "worker_count", p.config.WorkerCount)

	// The worker slice is immutable once the workers run.
	for i := 0; i < p.config.WorkerCount; i++ {
		p.workers = append(p.workers, NewWorker(fmt.Sprintf("worker-%d", i), p))
	}
	for _, worker := range p.workers {
		worker.Start(ctx)
	}

	if p.config.OrphanDetectionInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runOrphanDetection(ctx)
		}()
	}

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current tasks. Tasks still running past the graceful shutdown timeout
// are cancelled.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeTaskIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active tasks to complete",
			"count", len(active), "task_ids", active)
	}

	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			worker.Stop()
		}
		p.wg.Wait()
		close(done)
	}()

	timeout := p.config.GracefulShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("Graceful shutdown timeout elapsed, cancelling active tasks")
		p.cancelAll()
		<-done
	}

	p.sink.SetQueueDepth(0)
	p.sink.SetActiveWorkers(0)
	slog.Info("Worker pool stopped gracefully")
}

// Submit enqueues a task for processing. A full queue or a stopped pool
// rejects immediately.
func (p *Pool) Submit(task *models.Task) error {
	if task == nil || task.ID == "" {
		return fault.New(fault.CodeValidation, "task must have an id")
	}
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return fault.New(fault.CodeValidation, "worker pool not started")
	}

	select {
	case <-p.stopCh:
		return fault.New(fault.CodeValidation, "worker pool stopped")
	default:
	}

	select {
	case p.taskCh <- task:
		p.sink.SetQueueDepth(len(p.taskCh))
		return nil
	default:
		return fault.New(fault.CodeBusy, "queue full (%d tasks pending)", p.config.MaxQueuedTasks)
	}
}

// Cancel triggers context cancellation for an in-flight task. Returns
// true when the task was found and cancelled.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if entry, ok := p.active[taskID]; ok {
		entry.cancel()
		return true
	}
	return false
}

// Touch reports progress for an in-flight task, deferring orphan
// recovery. Executors call this from long-running work.
func (p *Pool) Touch(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.active[taskID]; ok {
		entry.lastProgress = time.Now()
	}
}

// Health returns the current pool health snapshot.
func (p *Pool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	p.mu.RLock()
	activeTasks := len(p.active)
	p.mu.RUnlock()

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	return &PoolHealth{
		IsHealthy:        len(p.workers) > 0,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		QueueDepth:       len(p.taskCh),
		ActiveTasks:      activeTasks,
		LastOrphanScan:   lastOrphanScan,
		OrphansRecovered: orphansRecovered,
		WorkerStats:      workerStats,
	}
}

// register stores the cancel function for an in-flight task.
func (p *Pool) register(taskID, workerID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[taskID] = &activeTask{
		workerID:     workerID,
		cancel:       cancel,
		lastProgress: time.Now(),
	}
}

// unregister removes the entry when processing ends and reports whether
// orphan recovery fired for it.
func (p *Pool) unregister(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.active[taskID]
	delete(p.active, taskID)
	return ok && entry.orphaned
}

func (p *Pool) finish(task *models.Task, result *ExecutionResult) {
	if p.onResult != nil {
		p.onResult(task, result)
	}
}

func (p *Pool) cancelAll() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, entry := range p.active {
		entry.cancel()
	}
}

func (p *Pool) activeTaskIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}
