package campaign

import (
	"context"
	"time"

	"github.com/ignite/engagex/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, orgID, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, orgID string, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign.
	Create(ctx context.Context, c *domain.Campaign) error

	// Update modifies a draft campaign. Only non-nil fields are applied.
	// Returns ErrNotEditable if the campaign has left draft.
	Update(ctx context.Context, orgID, id string, u UpdateFields) error

	// Delete removes a draft campaign. Returns ErrNotEditable otherwise.
	Delete(ctx context.Context, orgID, id string) error

	// Transition moves the campaign to c.To only if its current status is one
	// of c.From. Returns ErrInvalidTransition when the stored status does not
	// match, so concurrent transitions cannot both succeed.
	Transition(ctx context.Context, orgID, id string, c StatusChange) error

	// ListDue returns scheduled campaigns of every organization whose
	// scheduled time is at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// ListByStatus returns campaigns of every organization in status.
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error)

	// SaveStats stores the projected aggregate counters.
	SaveStats(ctx context.Context, orgID, id string, a domain.Aggregates) error
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name            *string   `json:"name"`
	Subject         *string   `json:"subject"`
	FromName        *string   `json:"from_name"`
	FromEmail       *string   `json:"from_email"`
	ReplyTo         *string   `json:"reply_to"`
	HTMLContent     *string   `json:"html_content"`
	TextContent     *string   `json:"text_content"`
	DomainID        *string   `json:"domain_id"`
	ContactGroupIDs *[]string `json:"contact_group_ids"`
}

// StatusChange describes a compare-and-set status transition.
type StatusChange struct {
	From []domain.CampaignStatus
	To   domain.CampaignStatus
	At   time.Time

	// ScheduledAt replaces scheduled_at when non-nil.
	ScheduledAt *time.Time
	// LastError replaces last_error when non-nil.
	LastError *string
}

// Allows reports whether current is an accepted source status.
func (c StatusChange) Allows(current domain.CampaignStatus) bool {
	for _, s := range c.From {
		if s == current {
			return true
		}
	}
	return false
}
