package memory

import (
	"context"
	"errors"

	"github.com/ignite/engagex/internal/domain"
)

// ErrOrganizationNotFound is returned for unknown organization ids.
var ErrOrganizationNotFound = errors.New("organization not found")

// OrganizationStore implements delivery.OrganizationSource.
type OrganizationStore struct{ s *Store }

// Put creates or replaces an organization.
func (o *OrganizationStore) Put(org domain.Organization) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = o.s.now().UTC()
	}
	o.s.orgs[org.ID] = &org
}

func (o *OrganizationStore) Get(_ context.Context, orgID string) (*domain.Organization, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	org, ok := o.s.orgs[orgID]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	cp := *org
	return &cp, nil
}
