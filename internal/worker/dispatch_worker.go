package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/engagex/internal/pkg/distlock"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/queue"
	"github.com/ignite/engagex/internal/service/campaign"
	"github.com/ignite/engagex/internal/service/delivery"
	"github.com/ignite/engagex/internal/service/sending"
)

// MaxJobAttempts bounds redelivery of a job that keeps failing on
// infrastructure errors.
const MaxJobAttempts = 5

// JobQueue is the consumer side of the job queue.
type JobQueue interface {
	Claim(ctx context.Context, wait time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Nack(ctx context.Context, d *queue.Delivery) error
}

// Dispatcher runs a campaign dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, orgID, campaignID string, groupIDs []string) (delivery.DispatchResult, error)
}

// Locks hands out per-campaign locks.
type Locks interface {
	Campaign(campaignID string) distlock.DistLock
}

// DispatchWorker consumes dispatch jobs. At most one dispatch per campaign
// runs at a time across every host sharing the lock backend.
type DispatchWorker struct {
	queue     JobQueue
	engine    Dispatcher
	campaigns campaign.Repository
	locks     Locks
	workers   int
	wait      time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewDispatchWorker creates a consumer with n concurrent claimers.
func NewDispatchWorker(q JobQueue, engine Dispatcher, campaigns campaign.Repository, locks Locks, n int) *DispatchWorker {
	if n <= 0 {
		n = 1
	}
	return &DispatchWorker{
		queue:     q,
		engine:    engine,
		campaigns: campaigns,
		locks:     locks,
		workers:   n,
		wait:      5 * time.Second,
		now:       time.Now,
		log:       logger.With("component", "dispatch-worker"),
	}
}

// Run blocks until ctx is cancelled and in-flight jobs have finished.
func (w *DispatchWorker) Run(ctx context.Context) {
	w.log.Info("[DispatchWorker] starting", "workers", w.workers)
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				if _, err := w.ProcessOne(ctx); err != nil && !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
					w.log.Error("[DispatchWorker] claim failed", "error", err)
					sleep(ctx, time.Second)
				}
			}
		}()
	}
	wg.Wait()
	w.log.Info("[DispatchWorker] stopped")
}

// ProcessOne claims and handles a single job. It returns queue.ErrEmpty
// when nothing was waiting.
func (w *DispatchWorker) ProcessOne(ctx context.Context) (bool, error) {
	d, err := w.queue.Claim(ctx, w.wait)
	if err != nil {
		return false, err
	}
	// the job is finished even if shutdown starts mid-run
	jobCtx := context.WithoutCancel(ctx)
	if w.handle(ctx, d) {
		return true, w.queue.Ack(jobCtx, d)
	}
	return false, w.queue.Nack(jobCtx, d)
}

// handle reports whether the job is done (ack) or should be redelivered.
func (w *DispatchWorker) handle(ctx context.Context, d *queue.Delivery) bool {
	j := d.Job
	log := w.log.With("job_id", j.ID, "campaign_id", j.CampaignID, "org_id", j.OrgID)
	if j.Kind != queue.KindDispatch {
		log.Warn("[DispatchWorker] unknown job kind dropped", "kind", j.Kind)
		return true
	}

	lock := w.locks.Campaign(j.CampaignID)
	held, err := lock.Acquire(ctx)
	if err != nil {
		log.Error("[DispatchWorker] lock failed", "error", err)
		return j.Attempts+1 >= MaxJobAttempts
	}
	if !held {
		// another worker is delivering this campaign and will drain it
		log.Info("[DispatchWorker] campaign busy, job dropped")
		return true
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("[DispatchWorker] lock release", "error", err)
		}
	}()

	res, err := w.engine.Dispatch(ctx, j.OrgID, j.CampaignID, j.GroupIDs)
	switch {
	case err == nil:
		log.Info("[DispatchWorker] dispatch finished", "sent", res.Sent, "total", res.Total)
		return true
	case campaign.IsValidation(err):
		if c, gerr := w.campaigns.Get(ctx, j.OrgID, j.CampaignID); gerr == nil {
			pauseInvalid(ctx, w.campaigns, log, c, err, w.now())
		}
		return true
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, campaign.ErrInvalidTransition):
		log.Warn("[DispatchWorker] job no longer applies", "error", err)
		return true
	case errors.Is(err, sending.ErrProviderUnavailable):
		log.Error("[DispatchWorker] provider unavailable, campaign failed", "error", err)
		return true
	}

	if j.Attempts+1 >= MaxJobAttempts {
		log.Error("[DispatchWorker] giving up", "attempts", j.Attempts+1, "error", err)
		return true
	}
	log.Warn("[DispatchWorker] dispatch error, will retry", "attempts", j.Attempts+1, "error", err)
	return false
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
