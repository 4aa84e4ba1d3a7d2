package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/blockimport/internal/core/domain"
)

// Store is the database view the monitor reads.
type Store interface {
	Health(ctx context.Context) error
	MissingRanges(ctx context.Context) ([]domain.MissingBlockRange, error)
	CountPendingBlockOperations(ctx context.Context) (int64, error)
}

// FailedBatchCounter counts batches parked after exhausting their retries.
type FailedBatchCounter interface {
	Count(ctx context.Context) (int, error)
}

// Monitor aggregates health status from the database and the failed batch queue.
type Monitor struct {
	chain      string
	store      Store
	failed     FailedBatchCounter
	interval   time.Duration
	lastCheck  time.Time
	lastReport *ImportHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. failed may be nil.
func NewMonitor(chain string, store Store, failed FailedBatchCounter) *Monitor {
	return &Monitor{
		chain:    chain,
		store:    store,
		failed:   failed,
		interval: 10 * time.Second,
	}
}

// CheckHealth performs a health check, reusing the last report within the check interval.
func (m *Monitor) CheckHealth(ctx context.Context) ImportHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid hammering the database
	if m.lastReport != nil && time.Since(m.lastCheck) < m.interval {
		return *m.lastReport
	}

	health := ImportHealth{
		Chain:  m.chain,
		Status: StatusHealthy,
	}

	// 1. Database reachability
	if err := m.store.Health(ctx); err != nil {
		health.Status = StatusCritical
		health.DatabaseError = err.Error()
		// Unreachable database; skip the remaining checks and do not cache.
		return health
	}

	// 2. Missing ranges
	if ranges, err := m.store.MissingRanges(ctx); err == nil {
		health.MissingRanges = len(ranges)
		for _, r := range ranges {
			health.MissingBlocks += r.ToNumber - r.FromNumber + 1
		}
	}

	// 3. Pending block operations
	if pending, err := m.store.CountPendingBlockOperations(ctx); err == nil {
		health.PendingOperations = pending
	}

	// 4. Failed batches
	if m.failed != nil {
		if count, err := m.failed.Count(ctx); err == nil {
			health.FailedBatches = count
		}
	}

	// Evaluate Status
	if health.MissingBlocks > 1000 || health.FailedBatches > 50 {
		health.Status = StatusCritical
	} else if health.MissingRanges > 0 || health.FailedBatches > 0 {
		health.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = &health
	return health
}
