package worker

import (
	"context"
	"time"

	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/queue"
	"github.com/ignite/engagex/internal/service/campaign"
)

const (
	// DefaultSchedulerPollInterval is how often due campaigns are looked up.
	DefaultSchedulerPollInterval = 30 * time.Second

	schedulerBatch = 100
)

// UniqueEnqueuer pushes a job unless one was pushed under the same key recently.
type UniqueEnqueuer interface {
	EnqueueUnique(ctx context.Context, key string, ttl time.Duration, j queue.Job) (bool, error)
}

// CampaignScheduler turns due scheduled campaigns into dispatch jobs.
// A campaign whose sender no longer validates is paused instead.
type CampaignScheduler struct {
	campaigns    campaign.Repository
	domains      campaign.DomainLookup
	queue        UniqueEnqueuer
	pollInterval time.Duration
	dedupe       time.Duration
	now          func() time.Time
	log          *logger.Logger
}

// NewCampaignScheduler creates a scheduler. dedupe is how long a due
// campaign is not re-enqueued while its first job is pending.
func NewCampaignScheduler(campaigns campaign.Repository, domains campaign.DomainLookup, q UniqueEnqueuer, pollInterval, dedupe time.Duration) *CampaignScheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultSchedulerPollInterval
	}
	if dedupe <= 0 {
		dedupe = 15 * time.Minute
	}
	return &CampaignScheduler{
		campaigns:    campaigns,
		domains:      domains,
		queue:        q,
		pollInterval: pollInterval,
		dedupe:       dedupe,
		now:          time.Now,
		log:          logger.With("component", "scheduler"),
	}
}

// Run polls until ctx is cancelled.
func (cs *CampaignScheduler) Run(ctx context.Context) {
	cs.log.Info("[CampaignScheduler] starting", "interval", cs.pollInterval.String())
	every(ctx, cs.pollInterval, func(ctx context.Context) {
		if _, err := cs.Tick(ctx); err != nil {
			cs.log.Error("[CampaignScheduler] poll failed", "error", err)
		}
	})
	cs.log.Info("[CampaignScheduler] stopped")
}

// Tick handles one poll and returns how many jobs it enqueued.
func (cs *CampaignScheduler) Tick(ctx context.Context) (int, error) {
	now := cs.now()
	due, err := cs.campaigns.ListDue(ctx, now, schedulerBatch)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for i := range due {
		c := &due[i]
		if _, err := campaign.ResolveSender(ctx, cs.domains, c); err != nil {
			if campaign.IsValidation(err) {
				pauseInvalid(ctx, cs.campaigns, cs.log, c, err, now)
				continue
			}
			cs.log.Error("[CampaignScheduler] sender lookup failed", "campaign_id", c.ID, "error", err)
			continue
		}

		ok, err := cs.queue.EnqueueUnique(ctx, "due:"+c.ID, cs.dedupe, queue.Job{
			Kind:       queue.KindDispatch,
			OrgID:      c.OrganizationID,
			CampaignID: c.ID,
		})
		if err != nil {
			cs.log.Error("[CampaignScheduler] enqueue failed", "campaign_id", c.ID, "error", err)
			continue
		}
		if ok {
			enqueued++
			cs.log.Info("[CampaignScheduler] campaign due, dispatch queued", "campaign_id", c.ID)
		}
	}
	return enqueued, nil
}
