package delivery

import (
	"context"

	"github.com/ignite/engagex/internal/domain"
)

// RecipientRepository stores campaign recipients. Implementations must be
// safe for concurrent use.
type RecipientRepository interface {
	// InsertMissing creates a pending recipient for every contact that does
	// not have one in the campaign yet and returns how many were created.
	InsertMissing(ctx context.Context, orgID, campaignID string, contacts []domain.Contact) (int, error)

	// ListByCampaign returns recipients ordered by id.
	ListByCampaign(ctx context.Context, orgID, campaignID string, f RecipientFilter) ([]domain.CampaignRecipient, error)

	// Get returns ErrRecipientNotFound when the recipient does not exist in orgID.
	Get(ctx context.Context, orgID, id string) (*domain.CampaignRecipient, error)

	// FindByMessageID looks a recipient up by the provider message id.
	// Provider notifications carry no organization, so the lookup is global.
	FindByMessageID(ctx context.Context, messageID string) (*domain.CampaignRecipient, error)

	// Update writes r if its stored version still equals r.Version and bumps
	// r.Version. Returns ErrVersionConflict otherwise.
	Update(ctx context.Context, r *domain.CampaignRecipient) error

	// Tally computes aggregates with the same rules as domain.Tally.
	Tally(ctx context.Context, orgID, campaignID string) (domain.Aggregates, error)
}

// RecipientFilter narrows ListByCampaign.
type RecipientFilter struct {
	Status  domain.RecipientStatus
	AfterID string // keyset cursor
	Limit   int
	Offset  int
}

// ContactSource resolves campaign audiences.
type ContactSource interface {
	// ResolveAudience returns the subscribed contacts in any of groupIDs,
	// each once. An empty groupIDs selects every subscribed contact.
	ResolveAudience(ctx context.Context, orgID string, groupIDs []string) ([]domain.Contact, error)

	// Unsubscribe excludes the contact from future audiences.
	Unsubscribe(ctx context.Context, orgID, contactID string) error
}

// OrganizationSource loads tenant details used in rendering.
type OrganizationSource interface {
	Get(ctx context.Context, orgID string) (*domain.Organization, error)
}

// EventStore is the append-only analytics log.
type EventStore interface {
	// Append stores e unless an event with the same ID exists. It reports
	// whether e was new.
	Append(ctx context.Context, e *domain.AnalyticsEvent) (bool, error)

	// ListByCampaign returns events newest first.
	ListByCampaign(ctx context.Context, orgID, campaignID string, f EventFilter) ([]domain.AnalyticsEvent, error)
}

// EventFilter narrows EventStore.ListByCampaign.
type EventFilter struct {
	Type   domain.EventType
	Limit  int
	Offset int
}

// LinkBuilder produces tracked URLs for outgoing mail. Optional.
type LinkBuilder interface {
	UnsubscribeURL(orgID, campaignID, recipientID string) string
	Instrument(html, orgID, campaignID, recipientID string) string
}
