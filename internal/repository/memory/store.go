// Package memory provides in-memory implementations of the service
// repositories, for tests and local development. All stores created from
// one Store share a single lock, so cross-entity rules such as "a domain
// referenced by a campaign cannot be deleted" hold.
package memory

import (
	"sync"
	"time"

	"github.com/ignite/engagex/internal/domain"
)

// Store holds every entity in maps keyed by id.
type Store struct {
	mu sync.Mutex

	orgs       map[string]*domain.Organization
	contacts   map[string]*domain.Contact
	campaigns  map[string]*domain.Campaign
	domains    map[string]*domain.SendingDomain
	recipients map[string]*domain.CampaignRecipient
	fanout     map[string]string // campaignID|contactID -> recipientID
	events     map[string]*domain.AnalyticsEvent
	eventOrder []string

	now func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		orgs:       make(map[string]*domain.Organization),
		contacts:   make(map[string]*domain.Contact),
		campaigns:  make(map[string]*domain.Campaign),
		domains:    make(map[string]*domain.SendingDomain),
		recipients: make(map[string]*domain.CampaignRecipient),
		fanout:     make(map[string]string),
		events:     make(map[string]*domain.AnalyticsEvent),
		now:        time.Now,
	}
}

func (s *Store) Campaigns() *CampaignStore         { return &CampaignStore{s} }
func (s *Store) Domains() *DomainStore             { return &DomainStore{s} }
func (s *Store) Recipients() *RecipientStore       { return &RecipientStore{s} }
func (s *Store) Contacts() *ContactStore           { return &ContactStore{s} }
func (s *Store) Organizations() *OrganizationStore { return &OrganizationStore{s} }
func (s *Store) Events() *EventStore               { return &EventStore{s} }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
