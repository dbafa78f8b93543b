package sendingdomain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/pkg/logger"
	"github.com/ignite/engagex/internal/trust"
)

// RecordVerifier checks expected records against DNS. *trust.Verifier
// satisfies it.
type RecordVerifier interface {
	Verify(ctx context.Context, name string, expected []domain.DNSRecord) trust.VerificationResult
}

// RecordPublisher writes records into DNS. *trust.Publisher satisfies it.
type RecordPublisher interface {
	Publish(ctx context.Context, name string, records []domain.DNSRecord) (string, error)
}

// Service coordinates domain storage and DNS verification.
type Service struct {
	repo      Repository
	verifier  RecordVerifier
	publisher RecordPublisher
	policy    trust.RecordPolicy
	now       func() time.Time
	log       *logger.Logger
}

// NewService creates a Service. publisher may be nil, in which case
// Publish returns ErrPublishingDisabled.
func NewService(repo Repository, verifier RecordVerifier, publisher RecordPublisher, policy trust.RecordPolicy) *Service {
	return &Service{
		repo:      repo,
		verifier:  verifier,
		publisher: publisher,
		policy:    policy,
		now:       time.Now,
		log:       logger.With("component", "sendingdomain"),
	}
}

// Register validates name and stores it as pending together with the
// records the owner has to publish.
func (s *Service) Register(ctx context.Context, orgID, name string) (*domain.SendingDomain, error) {
	name = trust.NormalizeDomain(name)
	if err := trust.ValidateDomainName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}

	now := s.now().UTC()
	d := &domain.SendingDomain{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Domain:         name,
		DKIMSelector:   s.policy.DKIMSelector,
		Status:         domain.DomainPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.setExpected(d)

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	s.log.Info("sending domain registered", "org_id", orgID, "domain", name)
	return d, nil
}

// Get returns one domain.
func (s *Service) Get(ctx context.Context, orgID, id string) (*domain.SendingDomain, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns the organization's domains.
func (s *Service) List(ctx context.Context, orgID string) ([]domain.SendingDomain, error) {
	return s.repo.List(ctx, orgID)
}

// Verify checks the domain's records against live DNS and stores the
// outcome: verified when every non-DKIM record matches, failed otherwise.
// DNS problems never surface as an error; they are on the records.
func (s *Service) Verify(ctx context.Context, orgID, id string) (*domain.SendingDomain, trust.VerificationResult, error) {
	d, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, trust.VerificationResult{}, err
	}
	res, err := s.verify(ctx, d)
	return d, res, err
}

func (s *Service) verify(ctx context.Context, d *domain.SendingDomain) (trust.VerificationResult, error) {
	res := s.verifier.Verify(ctx, d.Domain, d.Records())
	for _, rec := range res.Records {
		d.SetRecord(rec)
	}
	d.Status = domain.DomainFailed
	if res.Verified {
		d.Status = domain.DomainVerified
	}
	checked := res.CheckedAt
	d.LastCheckedAt = &checked
	d.UpdatedAt = s.now().UTC()

	if err := s.repo.Save(ctx, d); err != nil {
		return res, fmt.Errorf("save verification: %w", err)
	}
	return res, nil
}

// VerifyPending re-checks domains still waiting on their owner, for the
// periodic sweep. It returns how many became verified.
func (s *Service) VerifyPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.ListByStatus(ctx, domain.DomainPending, limit)
	if err != nil {
		return 0, err
	}
	verified := 0
	for i := range pending {
		if ctx.Err() != nil {
			return verified, ctx.Err()
		}
		d := &pending[i]
		res, err := s.verify(ctx, d)
		if err != nil {
			s.log.Warn("pending domain check failed", "domain", d.Domain, "error", err)
			continue
		}
		if res.Verified {
			verified++
		}
	}
	return verified, nil
}

// Regenerate rebuilds the expected records from the current platform
// policy and resets the domain to pending.
func (s *Service) Regenerate(ctx context.Context, orgID, id string) (*domain.SendingDomain, error) {
	d, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	d.DKIMSelector = s.policy.DKIMSelector
	s.setExpected(d)
	d.Status = domain.DomainPending
	d.LastCheckedAt = nil
	d.UpdatedAt = s.now().UTC()
	if err := s.repo.Save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Publish upserts the expected records into the configured hosted zone and
// returns the provider's change id.
func (s *Service) Publish(ctx context.Context, orgID, id string) (string, error) {
	if s.publisher == nil {
		return "", ErrPublishingDisabled
	}
	d, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return "", err
	}
	changeID, err := s.publisher.Publish(ctx, d.Domain, d.Records())
	if errors.Is(err, trust.ErrOutsideZone) {
		return "", fmt.Errorf("%w: %s", ErrInvalidDomain, err)
	}
	if err != nil {
		return "", fmt.Errorf("publish records: %w", err)
	}
	s.log.Info("dns records published", "domain", d.Domain, "change_id", changeID)
	return changeID, nil
}

// Delete removes an unreferenced domain.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	return s.repo.Delete(ctx, orgID, id)
}

func (s *Service) setExpected(d *domain.SendingDomain) {
	p := s.policy
	p.DKIMSelector = d.DKIMSelector
	for _, rec := range trust.ExpectedRecords(d.Domain, p) {
		d.SetRecord(rec)
	}
}
