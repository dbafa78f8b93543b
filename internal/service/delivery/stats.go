package delivery

import (
	"context"
	"fmt"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/campaign"
)

// Aggregates recomputes the campaign's counters from its recipient rows.
func (e *Engine) Aggregates(ctx context.Context, orgID, campaignID string) (domain.Aggregates, error) {
	if _, err := e.campaigns.Get(ctx, orgID, campaignID); err != nil {
		return domain.Aggregates{}, err
	}
	return e.recipients.Tally(ctx, orgID, campaignID)
}

// RefreshStats recomputes the aggregates and stores them on the campaign.
func (e *Engine) RefreshStats(ctx context.Context, orgID, campaignID string) (domain.Aggregates, error) {
	a, err := e.recipients.Tally(ctx, orgID, campaignID)
	if err != nil {
		return domain.Aggregates{}, err
	}
	if err := e.campaigns.SaveStats(ctx, orgID, campaignID, a); err != nil {
		return domain.Aggregates{}, err
	}
	return a, nil
}

// Recipients lists a campaign's recipient rows.
func (e *Engine) Recipients(ctx context.Context, orgID, campaignID string, f RecipientFilter) ([]domain.CampaignRecipient, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: %w %q", campaign.ErrValidation, domain.ErrUnknownRecipientStatus, f.Status)
	}
	if _, err := e.campaigns.Get(ctx, orgID, campaignID); err != nil {
		return nil, err
	}
	f.Limit = clampLimit(f.Limit)
	return e.recipients.ListByCampaign(ctx, orgID, campaignID, f)
}

// Recipient returns one recipient row of a campaign.
func (e *Engine) Recipient(ctx context.Context, orgID, campaignID, recipientID string) (*domain.CampaignRecipient, error) {
	r, err := e.recipients.Get(ctx, orgID, recipientID)
	if err != nil {
		return nil, err
	}
	if r.CampaignID != campaignID {
		return nil, ErrRecipientNotFound
	}
	return r, nil
}

// Events lists a campaign's analytics events, newest first.
func (e *Engine) Events(ctx context.Context, orgID, campaignID string, f EventFilter) ([]domain.AnalyticsEvent, error) {
	if _, err := e.campaigns.Get(ctx, orgID, campaignID); err != nil {
		return nil, err
	}
	f.Limit = clampLimit(f.Limit)
	return e.events.ListByCampaign(ctx, orgID, campaignID, f)
}

func clampLimit(n int) int {
	if n <= 0 {
		return 100
	}
	if n > 1000 {
		return 1000
	}
	return n
}
