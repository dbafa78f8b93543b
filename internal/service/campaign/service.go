package campaign

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/pkg/logger"
)

// StatsSource recomputes a campaign's aggregates from its recipient rows.
type StatsSource interface {
	Aggregates(ctx context.Context, orgID, campaignID string) (domain.Aggregates, error)
}

// Dispatcher hands a campaign to the background delivery workers.
type Dispatcher interface {
	EnqueueDispatch(ctx context.Context, orgID, campaignID string) error
}

// Service implements campaign business logic. It coordinates between the
// repository layer and the sender domain checks. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo       Repository
	domains    DomainLookup
	stats      StatsSource
	dispatcher Dispatcher
	now        func() time.Time
	log        *logger.Logger
}

// Option configures optional collaborators of the Service.
type Option func(*Service)

// WithStats makes Get recompute aggregates through src.
func WithStats(src StatsSource) Option {
	return func(s *Service) { s.stats = src }
}

// WithDispatcher lets Resume enqueue campaigns that are already due.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository, domains DomainLookup, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		domains: domains,
		now:     time.Now,
		log:     logger.With("component", "campaign"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a single campaign with freshly computed aggregates.
func (s *Service) Get(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if s.stats != nil {
		a, err := s.stats.Aggregates(ctx, orgID, id)
		if err != nil {
			return nil, fmt.Errorf("compute aggregates: %w", err)
		}
		c.Stats = a
	}
	return c, nil
}

// List returns campaigns matching the filter. Stats are the stored projection.
func (s *Service) List(ctx context.Context, orgID string, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Status != "" && !domain.CampaignStatus(f.Status).Valid() {
		return nil, 0, invalid("unknown status %q", f.Status)
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, orgID, f)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name            string   `json:"name"`
	Subject         string   `json:"subject"`
	FromName        string   `json:"from_name"`
	FromEmail       string   `json:"from_email"`
	ReplyTo         string   `json:"reply_to"`
	HTMLContent     string   `json:"html_content"`
	TextContent     string   `json:"text_content"`
	DomainID        string   `json:"domain_id"`
	ContactGroupIDs []string `json:"contact_group_ids"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, orgID, userID string, input CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, invalid("name is required")
	}
	if strings.TrimSpace(input.Subject) == "" {
		return nil, invalid("subject is required")
	}
	if err := checkAddress("from_email", input.FromEmail); err != nil {
		return nil, err
	}
	if err := checkAddress("reply_to", input.ReplyTo); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:              uuid.New().String(),
		OrganizationID:  orgID,
		Name:            strings.TrimSpace(input.Name),
		Subject:         input.Subject,
		FromName:        input.FromName,
		FromEmail:       strings.ToLower(input.FromEmail),
		ReplyTo:         input.ReplyTo,
		HTMLContent:     input.HTMLContent,
		TextContent:     input.TextContent,
		Status:          domain.CampaignDraft,
		CreatedBy:       userID,
		ContactGroupIDs: input.ContactGroupIDs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if input.DomainID != "" {
		c.DomainID = &input.DomainID
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("campaign created", "org_id", orgID, "campaign_id", c.ID)
	return c, nil
}

// Update modifies mutable fields of a draft campaign.
func (s *Service) Update(ctx context.Context, orgID, id string, u UpdateFields) error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return invalid("name cannot be empty")
	}
	if u.Subject != nil && strings.TrimSpace(*u.Subject) == "" {
		return invalid("subject cannot be empty")
	}
	if u.FromEmail != nil {
		if err := checkAddress("from_email", *u.FromEmail); err != nil {
			return err
		}
	}
	if u.ReplyTo != nil {
		if err := checkAddress("reply_to", *u.ReplyTo); err != nil {
			return err
		}
	}
	return s.repo.Update(ctx, orgID, id, u)
}

// Delete removes a draft campaign.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	return s.repo.Delete(ctx, orgID, id)
}

// Duplicate copies a campaign's content into a new draft named "<name> (Copy)".
// Recipients, schedule and stats are not copied.
func (s *Service) Duplicate(ctx context.Context, orgID, id, userID string) (*domain.Campaign, error) {
	src, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &domain.Campaign{
		ID:              uuid.New().String(),
		OrganizationID:  orgID,
		DomainID:        src.DomainID,
		Name:            src.Name + " (Copy)",
		Subject:         src.Subject,
		FromName:        src.FromName,
		FromEmail:       src.FromEmail,
		ReplyTo:         src.ReplyTo,
		HTMLContent:     src.HTMLContent,
		TextContent:     src.TextContent,
		Status:          domain.CampaignDraft,
		CreatedBy:       userID,
		ContactGroupIDs: append([]string(nil), src.ContactGroupIDs...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Schedule moves a draft campaign to scheduled for a future time. The sender
// domain must already be verified.
func (s *Service) Schedule(ctx context.Context, orgID, id string, at time.Time) (*domain.Campaign, error) {
	now := s.now()
	if !at.After(now) {
		return nil, invalid("scheduled time must be in the future")
	}
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, fmt.Errorf("%w: cannot schedule a %s campaign", ErrInvalidTransition, c.Status)
	}
	if _, err := ResolveSender(ctx, s.domains, c); err != nil {
		return nil, err
	}

	at = at.UTC()
	err = s.repo.Transition(ctx, orgID, id, StatusChange{
		From:        []domain.CampaignStatus{domain.CampaignDraft},
		To:          domain.CampaignScheduled,
		At:          now,
		ScheduledAt: &at,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("campaign scheduled", "campaign_id", id, "scheduled_at", at.Format(time.RFC3339))
	return s.repo.Get(ctx, orgID, id)
}

// Pause stops a scheduled or sending campaign. In-flight batches finish;
// no new batch starts.
func (s *Service) Pause(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	err := s.repo.Transition(ctx, orgID, id, StatusChange{
		From: []domain.CampaignStatus{domain.CampaignScheduled, domain.CampaignSending},
		To:   domain.CampaignPaused,
		At:   s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("campaign paused", "campaign_id", id)
	return s.repo.Get(ctx, orgID, id)
}

// Resume moves a paused campaign back to scheduled. A campaign whose
// scheduled time has passed (or that never had one) is handed to the
// dispatcher right away.
func (s *Service) Resume(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignPaused {
		return nil, fmt.Errorf("%w: cannot resume a %s campaign", ErrInvalidTransition, c.Status)
	}

	now := s.now()
	change := StatusChange{
		From: []domain.CampaignStatus{domain.CampaignPaused},
		To:   domain.CampaignScheduled,
		At:   now,
	}
	due := c.ScheduledAt == nil || !c.ScheduledAt.After(now)
	if c.ScheduledAt == nil {
		at := now.UTC()
		change.ScheduledAt = &at
	}
	cleared := ""
	change.LastError = &cleared
	if err := s.repo.Transition(ctx, orgID, id, change); err != nil {
		return nil, err
	}

	if due && s.dispatcher != nil {
		if err := s.dispatcher.EnqueueDispatch(ctx, orgID, id); err != nil {
			// The scheduler picks the campaign up on its next tick.
			s.log.Warn("enqueue resumed campaign failed", "campaign_id", id, "error", err)
		}
	}
	s.log.Info("campaign resumed", "campaign_id", id, "due", due)
	return s.repo.Get(ctx, orgID, id)
}

// IsValidation reports whether err came from input or sender checks.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func checkAddress(field, addr string) error {
	if addr == "" {
		return nil
	}
	a, err := mail.ParseAddress(addr)
	if err != nil || a.Address != addr {
		return invalid("%s %q is not a valid email address", field, addr)
	}
	return nil
}
