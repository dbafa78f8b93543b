package trust

import (
	"fmt"
	"strings"

	"github.com/ignite/engagex/internal/domain"
)

// RecordPolicy describes the platform side of the records a domain must publish.
type RecordPolicy struct {
	SPFInclude    string // host included by the SPF record
	RoutingHost   string // target of the mail.<domain> CNAME
	DKIMSelector  string
	DKIMPublicKey string // base64 key material, if the provider has issued one
}

// ExpectedRecords returns the four records the domain owner must publish,
// in SPF, DKIM, DMARC, CNAME order. Hosts are lower-case without a trailing dot.
func ExpectedRecords(name string, p RecordPolicy) []domain.DNSRecord {
	name = normalizeHost(name)
	return []domain.DNSRecord{
		{
			Kind:     domain.RecordSPF,
			Type:     "TXT",
			Host:     name,
			Expected: fmt.Sprintf("v=spf1 include:%s ~all", p.SPFInclude),
		},
		{
			Kind:     domain.RecordDKIM,
			Type:     "TXT",
			Host:     fmt.Sprintf("%s._domainkey.%s", p.DKIMSelector, name),
			Expected: "v=DKIM1; k=rsa; p=" + p.DKIMPublicKey,
		},
		{
			Kind:     domain.RecordDMARC,
			Type:     "TXT",
			Host:     "_dmarc." + name,
			Expected: fmt.Sprintf("v=DMARC1; p=quarantine; rua=mailto:dmarc@%s", name),
		},
		{
			Kind:     domain.RecordCNAME,
			Type:     "CNAME",
			Host:     "mail." + name,
			Expected: normalizeHost(p.RoutingHost),
		},
	}
}

// ValidateDomainName checks that name is a syntactically valid hostname
// with at least two labels.
func ValidateDomainName(name string) error {
	if name == "" {
		return fmt.Errorf("domain cannot be empty")
	}
	if len(name) > 253 {
		return fmt.Errorf("domain name too long (max 253 characters)")
	}

	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return fmt.Errorf("invalid domain format: must contain at least one dot")
	}
	for _, part := range parts {
		if len(part) == 0 {
			return fmt.Errorf("invalid domain format: empty label")
		}
		if len(part) > 63 {
			return fmt.Errorf("invalid domain format: label too long (max 63 characters)")
		}
		if part[0] == '-' || part[len(part)-1] == '-' {
			return fmt.Errorf("invalid domain format: labels cannot start or end with hyphen")
		}
		for _, c := range part {
			if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
				return fmt.Errorf("invalid domain format: invalid character '%c'", c)
			}
		}
	}
	return nil
}

// NormalizeDomain lower-cases and trims name for storage and comparison.
func NormalizeDomain(name string) string {
	return normalizeHost(strings.TrimSpace(name))
}

func normalizeHost(h string) string {
	return strings.ToLower(strings.TrimSuffix(h, "."))
}
