package domain

import "time"

// EventType enumerates delivery and engagement events recorded against a recipient.
type EventType string

const (
	EventSend        EventType = "send"
	EventDelivered   EventType = "delivered"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventBounce      EventType = "bounce"
	EventUnsubscribe EventType = "unsubscribe"
	EventSpamReport  EventType = "spam_report"
)

// RecipientStatus maps the event to the recipient status it drives.
// A spam report is treated as an unsubscribe.
func (e EventType) RecipientStatus() (RecipientStatus, bool) {
	switch e {
	case EventSend:
		return RecipientSent, true
	case EventDelivered:
		return RecipientDelivered, true
	case EventOpen:
		return RecipientOpened, true
	case EventClick:
		return RecipientClicked, true
	case EventBounce:
		return RecipientBounced, true
	case EventUnsubscribe, EventSpamReport:
		return RecipientUnsubscribed, true
	}
	return "", false
}

// AnalyticsEvent is an append-only record of a delivery or engagement event.
// ID doubles as the idempotency key: replays of the same provider
// notification carry the same ID and are stored once.
type AnalyticsEvent struct {
	ID             string            `json:"id" db:"id"`
	OrganizationID string            `json:"organization_id" db:"organization_id"`
	CampaignID     string            `json:"campaign_id" db:"campaign_id"`
	RecipientID    string            `json:"recipient_id" db:"recipient_id"`
	ContactID      string            `json:"contact_id,omitempty" db:"contact_id"`
	EventType      EventType         `json:"event_type" db:"event_type"`
	MessageID      string            `json:"message_id,omitempty" db:"message_id"`
	IPAddress      string            `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent      string            `json:"user_agent,omitempty" db:"user_agent"`
	URL            string            `json:"url,omitempty" db:"url"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"metadata"`
	OccurredAt     time.Time         `json:"occurred_at" db:"occurred_at"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}
