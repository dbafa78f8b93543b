package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/campaign"
	"github.com/ignite/engagex/internal/service/delivery"
)

// Event is an engagement event captured by a tracking endpoint.
type Event struct {
	ID          string           `json:"id"`
	Type        domain.EventType `json:"event_type"`
	OrgID       string           `json:"org_id"`
	CampaignID  string           `json:"campaign_id"`
	RecipientID string           `json:"recipient_id"`
	URL         string           `json:"url,omitempty"`
	IPAddress   string           `json:"ip_address"`
	UserAgent   string           `json:"user_agent"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Input converts the event into the engine's event input. The event id
// doubles as the idempotency key, so a redelivered message is logged once.
func (e Event) Input() delivery.EventInput {
	return delivery.EventInput{
		Type:           e.Type,
		OccurredAt:     e.Timestamp,
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		URL:            e.URL,
		IdempotencyKey: e.ID,
	}
}

// EventApplier is the delivery engine's event side.
type EventApplier interface {
	ApplyEvent(ctx context.Context, orgID, recipientID string, in delivery.EventInput) (*delivery.ApplyResult, error)
	ApplyProviderEvent(ctx context.Context, in delivery.EventInput) (*delivery.ApplyResult, error)
}

// Sink receives events from the tracking handlers.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// DirectSink applies events synchronously, for deployments without a queue.
type DirectSink struct {
	events EventApplier
}

// NewDirectSink creates a sink that calls the engine in-process.
func NewDirectSink(events EventApplier) *DirectSink {
	return &DirectSink{events: events}
}

// Publish implements Sink.
func (s *DirectSink) Publish(ctx context.Context, evt Event) error {
	_, err := s.events.ApplyEvent(ctx, evt.OrgID, evt.RecipientID, evt.Input())
	if isPermanent(err) {
		return nil
	}
	return err
}

// isPermanent reports errors that will not go away on redelivery.
func isPermanent(err error) bool {
	return err != nil && (errors.Is(err, delivery.ErrRecipientNotFound) || campaign.IsValidation(err))
}
