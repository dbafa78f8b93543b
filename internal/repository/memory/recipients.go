package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/delivery"
)

// RecipientStore implements delivery.RecipientRepository.
type RecipientStore struct{ s *Store }

var _ delivery.RecipientRepository = (*RecipientStore)(nil)

func cloneRecipient(r *domain.CampaignRecipient) *domain.CampaignRecipient {
	cp := *r
	cp.SentAt = copyTime(r.SentAt)
	cp.DeliveredAt = copyTime(r.DeliveredAt)
	cp.OpenedAt = copyTime(r.OpenedAt)
	cp.ClickedAt = copyTime(r.ClickedAt)
	cp.BouncedAt = copyTime(r.BouncedAt)
	cp.UnsubscribedAt = copyTime(r.UnsubscribedAt)
	return &cp
}

func (m *RecipientStore) InsertMissing(_ context.Context, orgID, campaignID string, contacts []domain.Contact) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := m.s.now().UTC()
	created := 0
	for _, ct := range contacts {
		key := campaignID + "|" + ct.ID
		if _, ok := m.s.fanout[key]; ok {
			continue
		}
		r := &domain.CampaignRecipient{
			ID:             uuid.New().String(),
			OrganizationID: orgID,
			CampaignID:     campaignID,
			ContactID:      ct.ID,
			Email:          ct.Email,
			FirstName:      ct.FirstName,
			LastName:       ct.LastName,
			Status:         domain.RecipientPending,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		m.s.recipients[r.ID] = r
		m.s.fanout[key] = r.ID
		created++
	}
	return created, nil
}

func (m *RecipientStore) ListByCampaign(_ context.Context, orgID, campaignID string, f delivery.RecipientFilter) ([]domain.CampaignRecipient, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.CampaignRecipient
	for _, r := range m.s.recipients {
		if r.OrganizationID != orgID || r.CampaignID != campaignID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.AfterID != "" && r.ID <= f.AfterID {
			continue
		}
		out = append(out, *cloneRecipient(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *RecipientStore) Get(_ context.Context, orgID, id string) (*domain.CampaignRecipient, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	r, ok := m.s.recipients[id]
	if !ok || r.OrganizationID != orgID {
		return nil, delivery.ErrRecipientNotFound
	}
	return cloneRecipient(r), nil
}

func (m *RecipientStore) FindByMessageID(_ context.Context, messageID string) (*domain.CampaignRecipient, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, r := range m.s.recipients {
		if r.MessageID != "" && r.MessageID == messageID {
			return cloneRecipient(r), nil
		}
	}
	return nil, delivery.ErrRecipientNotFound
}

func (m *RecipientStore) Update(_ context.Context, r *domain.CampaignRecipient) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.recipients[r.ID]
	if !ok || cur.OrganizationID != r.OrganizationID {
		return delivery.ErrRecipientNotFound
	}
	if cur.Version != r.Version {
		return delivery.ErrVersionConflict
	}
	r.Version++
	m.s.recipients[r.ID] = cloneRecipient(r)
	return nil
}

func (m *RecipientStore) Tally(_ context.Context, orgID, campaignID string) (domain.Aggregates, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var rows []domain.CampaignRecipient
	for _, r := range m.s.recipients {
		if r.OrganizationID == orgID && r.CampaignID == campaignID {
			rows = append(rows, *r)
		}
	}
	return domain.Tally(rows), nil
}
