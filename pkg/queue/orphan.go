package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks orphan detection metrics.
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans in-flight tasks for stalled
// progress reporting.
func (p *Pool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.detectAndRecoverOrphans()
		}
	}
}

// detectAndRecoverOrphans cancels in-flight tasks whose last progress
// report is older than the orphan threshold. The owning worker observes
// the cancellation and finishes the task as timed out.
func (p *Pool) detectAndRecoverOrphans() {
	threshold := time.Now().Add(-p.config.OrphanThreshold)

	var recovered []string
	p.mu.Lock()
	for id, entry := range p.active {
		if entry.orphaned || entry.lastProgress.After(threshold) {
			continue
		}
		entry.orphaned = true
		entry.cancel()
		recovered = append(recovered, id)
	}
	p.mu.Unlock()

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += len(recovered)
	p.orphans.mu.Unlock()

	if len(recovered) > 0 {
		slog.Warn("Recovered orphaned tasks", "count", len(recovered), "task_ids", recovered)
	}
}
