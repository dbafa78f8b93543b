package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/campaign"
)

// CampaignStore implements campaign.Repository.
type CampaignStore struct{ s *Store }

var _ campaign.Repository = (*CampaignStore)(nil)

func cloneCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	cp.ContactGroupIDs = append([]string(nil), c.ContactGroupIDs...)
	cp.ScheduledAt = copyTime(c.ScheduledAt)
	cp.StartedAt = copyTime(c.StartedAt)
	cp.CompletedAt = copyTime(c.CompletedAt)
	if c.DomainID != nil {
		id := *c.DomainID
		cp.DomainID = &id
	}
	return &cp
}

func (m *CampaignStore) Get(_ context.Context, orgID, id string) (*domain.Campaign, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return nil, campaign.ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (m *CampaignStore) List(_ context.Context, orgID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Campaign
	search := strings.ToLower(f.Search)
	for _, c := range m.s.campaigns {
		if c.OrganizationID != orgID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(c.Name), search) {
			continue
		}
		out = append(out, *cloneCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) || f.Limit <= 0 {
		end = len(out)
	}
	return out[f.Offset:end], total, nil
}

func (m *CampaignStore) Create(_ context.Context, c *domain.Campaign) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if c.ID == "" {
		return fmt.Errorf("id required")
	}
	if _, exists := m.s.campaigns[c.ID]; exists {
		return fmt.Errorf("campaign %s already exists", c.ID)
	}
	m.s.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (m *CampaignStore) Update(_ context.Context, orgID, id string, u campaign.UpdateFields) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return campaign.ErrNotEditable
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.Name, u.Name)
	set(&c.Subject, u.Subject)
	set(&c.FromName, u.FromName)
	set(&c.FromEmail, u.FromEmail)
	set(&c.ReplyTo, u.ReplyTo)
	set(&c.HTMLContent, u.HTMLContent)
	set(&c.TextContent, u.TextContent)
	if u.DomainID != nil {
		if *u.DomainID == "" {
			c.DomainID = nil
		} else {
			id := *u.DomainID
			c.DomainID = &id
		}
	}
	if u.ContactGroupIDs != nil {
		c.ContactGroupIDs = append([]string(nil), (*u.ContactGroupIDs)...)
	}
	c.UpdatedAt = m.s.now().UTC()
	return nil
}

func (m *CampaignStore) Delete(_ context.Context, orgID, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return campaign.ErrNotEditable
	}
	delete(m.s.campaigns, id)
	return nil
}

func (m *CampaignStore) Transition(_ context.Context, orgID, id string, ch campaign.StatusChange) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return campaign.ErrNotFound
	}
	if !ch.Allows(c.Status) {
		return fmt.Errorf("%w: %s -> %s", campaign.ErrInvalidTransition, c.Status, ch.To)
	}
	applyChange(c, ch)
	return nil
}

// applyChange mirrors the column updates of the Postgres Transition.
func applyChange(c *domain.Campaign, ch campaign.StatusChange) {
	at := ch.At.UTC()
	c.Status = ch.To
	c.UpdatedAt = at
	switch ch.To {
	case domain.CampaignSending:
		if c.StartedAt == nil {
			c.StartedAt = &at
		}
	case domain.CampaignSent, domain.CampaignFailed:
		c.CompletedAt = &at
	}
	if ch.ScheduledAt != nil {
		c.ScheduledAt = copyTime(ch.ScheduledAt)
	}
	if ch.LastError != nil {
		c.LastError = *ch.LastError
	}
}

func (m *CampaignStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.s.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *CampaignStore) ListByStatus(_ context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.s.campaigns {
		if c.Status == status {
			out = append(out, *cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *CampaignStore) SaveStats(_ context.Context, orgID, id string, a domain.Aggregates) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c, ok := m.s.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return campaign.ErrNotFound
	}
	c.Stats = a
	return nil
}
