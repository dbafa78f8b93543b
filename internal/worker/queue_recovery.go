package worker

import (
	"context"
	"time"

	"github.com/ignite/engagex/internal/pkg/logger"
)

// DefaultRecoveryInterval is how often claimed jobs are scanned.
const DefaultRecoveryInterval = 2 * time.Minute

// Recoverable is a queue whose stale claims can be requeued.
type Recoverable interface {
	Recover(ctx context.Context) (int, error)
	Depth(ctx context.Context) (int64, error)
}

// QueueRecoveryWorker requeues jobs whose worker died mid-run and keeps
// the queue depth gauge current.
type QueueRecoveryWorker struct {
	queue    Recoverable
	interval time.Duration
	log      *logger.Logger
}

// NewQueueRecoveryWorker creates a recovery worker.
func NewQueueRecoveryWorker(q Recoverable, interval time.Duration) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	return &QueueRecoveryWorker{queue: q, interval: interval, log: logger.With("component", "queue-recovery")}
}

// Run blocks until ctx is cancelled.
func (qr *QueueRecoveryWorker) Run(ctx context.Context) {
	qr.log.Info("[QueueRecovery] starting", "interval", qr.interval.String())
	every(ctx, qr.interval, func(ctx context.Context) {
		n, err := qr.queue.Recover(ctx)
		if err != nil {
			qr.log.Error("[QueueRecovery] recover failed", "error", err)
		} else if n > 0 {
			qr.log.Warn("[QueueRecovery] requeued stuck jobs", "count", n)
		}
		if _, err := qr.queue.Depth(ctx); err != nil {
			qr.log.Error("[QueueRecovery] depth failed", "error", err)
		}
	})
}
