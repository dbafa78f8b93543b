// Package worker runs the background side of the dispatch tier: the
// dispatch job consumer, the scheduler, periodic stats refresh, the pending
// domain sweep and queue recovery. Each loop stops when its context ends.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/service/campaign"
)

// every calls fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// pauseInvalid parks a scheduled campaign that can no longer start, with
// the reason recorded, so it is not picked up again on every poll.
func pauseInvalid(ctx context.Context, repo campaign.Repository, log *logger.Logger, c *domain.Campaign, cause error, at time.Time) {
	reason := cause.Error()
	err := repo.Transition(ctx, c.OrganizationID, c.ID, campaign.StatusChange{
		From:      []domain.CampaignStatus{domain.CampaignScheduled},
		To:        domain.CampaignPaused,
		At:        at,
		LastError: &reason,
	})
	if err != nil && !errors.Is(err, campaign.ErrInvalidTransition) {
		log.Error("pause invalid campaign failed", "campaign_id", c.ID, "error", err)
		return
	}
	log.Warn("scheduled campaign paused", "campaign_id", c.ID, "reason", reason)
}
