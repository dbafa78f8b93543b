package memory

import (
	"context"
	"sort"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/delivery"
)

// EventStore implements delivery.EventStore.
type EventStore struct{ s *Store }

var _ delivery.EventStore = (*EventStore)(nil)

func (m *EventStore) Append(_ context.Context, e *domain.AnalyticsEvent) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.events[e.ID]; ok {
		return false, nil
	}
	cp := *e
	m.s.events[e.ID] = &cp
	m.s.eventOrder = append(m.s.eventOrder, e.ID)
	return true, nil
}

func (m *EventStore) ListByCampaign(_ context.Context, orgID, campaignID string, f delivery.EventFilter) ([]domain.AnalyticsEvent, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.AnalyticsEvent
	for _, id := range m.s.eventOrder {
		e := m.s.events[id]
		if e.OrganizationID != orgID || e.CampaignID != campaignID {
			continue
		}
		if f.Type != "" && e.EventType != f.Type {
			continue
		}
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
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

// Count returns how many events are stored, for tests.
func (m *EventStore) Count() int {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return len(m.s.events)
}
