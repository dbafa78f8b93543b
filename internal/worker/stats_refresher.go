package worker

import (
	"context"
	"time"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/service/campaign"
)

// StatsProjector recomputes and stores a campaign's counters.
type StatsProjector interface {
	RefreshStats(ctx context.Context, orgID, campaignID string) (domain.Aggregates, error)
}

// StatsRefresher keeps the stored counters of active and recently sent
// campaigns close to their recipient rows. Reads recompute regardless;
// the stored columns serve list views.
type StatsRefresher struct {
	campaigns campaign.Repository
	stats     StatsProjector
	interval  time.Duration
	limit     int
	log       *logger.Logger
}

// NewStatsRefresher creates a refresher.
func NewStatsRefresher(campaigns campaign.Repository, stats StatsProjector, interval time.Duration) *StatsRefresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatsRefresher{
		campaigns: campaigns,
		stats:     stats,
		interval:  interval,
		limit:     500,
		log:       logger.With("component", "stats-refresher"),
	}
}

// Run refreshes until ctx is cancelled.
func (s *StatsRefresher) Run(ctx context.Context) {
	every(ctx, s.interval, func(ctx context.Context) {
		if _, err := s.Tick(ctx); err != nil {
			s.log.Error("[StatsRefresher] refresh failed", "error", err)
		}
	})
}

// Tick refreshes sending and sent campaigns and returns how many it stored.
func (s *StatsRefresher) Tick(ctx context.Context) (int, error) {
	refreshed := 0
	for _, status := range []domain.CampaignStatus{domain.CampaignSending, domain.CampaignSent} {
		list, err := s.campaigns.ListByStatus(ctx, status, s.limit)
		if err != nil {
			return refreshed, err
		}
		for _, c := range list {
			if _, err := s.stats.RefreshStats(ctx, c.OrganizationID, c.ID); err != nil {
				s.log.Warn("[StatsRefresher] campaign skipped", "campaign_id", c.ID, "error", err)
				continue
			}
			refreshed++
		}
	}
	return refreshed, nil
}
