package trust

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StdResolver implements Resolver with the standard library net package.
// Used when the deployment must go through the host's resolver stack
// (for example split-horizon DNS in a VPC).
type StdResolver struct {
	resolver *net.Resolver
}

// NewStdResolver creates a resolver using net.DefaultResolver.
func NewStdResolver() *StdResolver {
	return &StdResolver{resolver: net.DefaultResolver}
}

// LookupTXT retrieves TXT records using the standard library.
func (r *StdResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	records, err := r.resolver.LookupTXT(ctx, strings.TrimSuffix(name, "."))
	if err != nil {
		return nil, convertError(err)
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records, nil
}

// LookupCNAME returns the canonical name for name. The standard library
// returns the queried name itself when no CNAME exists; that is reported
// as ErrNoRecords.
func (r *StdResolver) LookupCNAME(ctx context.Context, name string) (string, error) {
	name = strings.TrimSuffix(name, ".")
	target, err := r.resolver.LookupCNAME(ctx, name)
	if err != nil {
		return "", convertError(err)
	}
	if normalizeHost(target) == normalizeHost(name) {
		return "", ErrNoRecords
	}
	return target, nil
}

// convertError converts standard library DNS errors to package errors.
func convertError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return ErrNXDomain
		}
		if dnsErr.IsTimeout {
			return ErrTimeout
		}
		if dnsErr.IsTemporary {
			return ErrServFail
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return fmt.Errorf("dns lookup failed: %w", err)
}
