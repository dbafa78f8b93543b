package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ignite/engagex/internal/domain"
)

// ContactStore implements delivery.ContactSource.
type ContactStore struct{ s *Store }

// Put creates or replaces a contact and returns its id.
func (c *ContactStore) Put(ct domain.Contact) string {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if ct.ID == "" {
		ct.ID = uuid.New().String()
	}
	now := c.s.now().UTC()
	if ct.CreatedAt.IsZero() {
		ct.CreatedAt = now
	}
	ct.UpdatedAt = now
	ct.GroupIDs = append([]string(nil), ct.GroupIDs...)
	c.s.contacts[ct.ID] = &ct
	return ct.ID
}

// Get returns a copy of the contact, or false.
func (c *ContactStore) Get(orgID, id string) (domain.Contact, bool) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	ct, ok := c.s.contacts[id]
	if !ok || ct.OrganizationID != orgID {
		return domain.Contact{}, false
	}
	return *ct, true
}

func (c *ContactStore) ResolveAudience(_ context.Context, orgID string, groupIDs []string) ([]domain.Contact, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	want := make(map[string]bool, len(groupIDs))
	for _, g := range groupIDs {
		want[g] = true
	}

	var out []domain.Contact
	for _, ct := range c.s.contacts {
		if ct.OrganizationID != orgID || !ct.IsSubscribed {
			continue
		}
		if len(want) > 0 && !inAnyGroup(ct.GroupIDs, want) {
			continue
		}
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *ContactStore) Unsubscribe(_ context.Context, orgID, contactID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	ct, ok := c.s.contacts[contactID]
	if !ok || ct.OrganizationID != orgID {
		return nil
	}
	ct.IsSubscribed = false
	ct.UpdatedAt = c.s.now().UTC()
	return nil
}

func inAnyGroup(groups []string, want map[string]bool) bool {
	for _, g := range groups {
		if want[g] {
			return true
		}
	}
	return false
}
