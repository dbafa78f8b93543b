package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/sendingdomain"
)

// DomainLookup resolves a campaign's sender domain.
type DomainLookup interface {
	Get(ctx context.Context, orgID, id string) (*domain.SendingDomain, error)
}

// CheckSender reports whether c may be sent from d right now.
func CheckSender(c *domain.Campaign, d *domain.SendingDomain) error {
	if c.DomainID == nil || d == nil {
		return ErrNoSenderDomain
	}
	if !d.IsVerified() {
		return fmt.Errorf("%w: %s is %s", ErrSenderNotVerified, d.Domain, d.Status)
	}
	at := strings.LastIndex(c.FromEmail, "@")
	if at < 0 {
		return invalid("from address %q is not an email address", c.FromEmail)
	}
	host := strings.ToLower(c.FromEmail[at+1:])
	if host != d.Domain && !strings.HasSuffix(host, "."+d.Domain) {
		return fmt.Errorf("%w: %s is not on %s", ErrSenderMismatch, host, d.Domain)
	}
	return nil
}

// ResolveSender loads and checks the campaign's sender domain.
func ResolveSender(ctx context.Context, domains DomainLookup, c *domain.Campaign) (*domain.SendingDomain, error) {
	if c.DomainID == nil {
		return nil, ErrNoSenderDomain
	}
	d, err := domains.Get(ctx, c.OrganizationID, *c.DomainID)
	if errors.Is(err, sendingdomain.ErrNotFound) {
		return nil, ErrNoSenderDomain
	}
	if err != nil {
		return nil, fmt.Errorf("load sender domain: %w", err)
	}
	if err := CheckSender(c, d); err != nil {
		return nil, err
	}
	return d, nil
}
