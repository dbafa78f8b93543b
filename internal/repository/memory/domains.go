package memory

import (
	"context"
	"sort"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/sendingdomain"
)

// DomainStore implements sendingdomain.Repository and campaign.DomainLookup.
type DomainStore struct{ s *Store }

var _ sendingdomain.Repository = (*DomainStore)(nil)

func cloneDomain(d *domain.SendingDomain) *domain.SendingDomain {
	cp := *d
	cp.LastCheckedAt = copyTime(d.LastCheckedAt)
	for _, rec := range d.Records() {
		rec.Observed = append([]string(nil), rec.Observed...)
		cp.SetRecord(rec)
	}
	return &cp
}

func (m *DomainStore) Get(_ context.Context, orgID, id string) (*domain.SendingDomain, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.domains[id]
	if !ok || d.OrganizationID != orgID {
		return nil, sendingdomain.ErrNotFound
	}
	return cloneDomain(d), nil
}

func (m *DomainStore) List(_ context.Context, orgID string) ([]domain.SendingDomain, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.SendingDomain
	for _, d := range m.s.domains {
		if d.OrganizationID == orgID {
			out = append(out, *cloneDomain(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (m *DomainStore) Create(_ context.Context, d *domain.SendingDomain) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.domains {
		if existing.OrganizationID == d.OrganizationID && existing.Domain == d.Domain {
			return sendingdomain.ErrDuplicate
		}
	}
	m.s.domains[d.ID] = cloneDomain(d)
	return nil
}

func (m *DomainStore) Save(_ context.Context, d *domain.SendingDomain) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.domains[d.ID]
	if !ok || cur.OrganizationID != d.OrganizationID {
		return sendingdomain.ErrNotFound
	}
	m.s.domains[d.ID] = cloneDomain(d)
	return nil
}

func (m *DomainStore) Delete(_ context.Context, orgID, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.domains[id]
	if !ok || d.OrganizationID != orgID {
		return sendingdomain.ErrNotFound
	}
	for _, c := range m.s.campaigns {
		if c.DomainID != nil && *c.DomainID == id {
			return sendingdomain.ErrDomainInUse
		}
	}
	delete(m.s.domains, id)
	return nil
}

func (m *DomainStore) ListByStatus(_ context.Context, status domain.DomainStatus, limit int) ([]domain.SendingDomain, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.SendingDomain
	for _, d := range m.s.domains {
		if d.Status == status {
			out = append(out, *cloneDomain(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
