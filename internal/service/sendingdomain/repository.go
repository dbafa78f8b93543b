package sendingdomain

import (
	"context"

	"github.com/ignite/engagex/internal/domain"
)

// Repository defines the data access contract for sending domains.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns ErrNotFound when the domain does not exist in orgID.
	Get(ctx context.Context, orgID, id string) (*domain.SendingDomain, error)

	// List returns the organization's domains ordered by name.
	List(ctx context.Context, orgID string) ([]domain.SendingDomain, error)

	// Create inserts d. Returns ErrDuplicate if orgID already has the name.
	Create(ctx context.Context, d *domain.SendingDomain) error

	// Save stores status, records and last_checked_at.
	Save(ctx context.Context, d *domain.SendingDomain) error

	// Delete removes the domain. Returns ErrDomainInUse while a campaign
	// still references it.
	Delete(ctx context.Context, orgID, id string) error

	// ListByStatus returns domains of every organization in status.
	ListByStatus(ctx context.Context, status domain.DomainStatus, limit int) ([]domain.SendingDomain, error)
}
