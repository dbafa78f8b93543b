package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/metrics"
	"github.com/ignite/engagex/internal/pkg/logger"
)

// DefaultLookupTimeout bounds each individual record lookup.
const DefaultLookupTimeout = 5 * time.Second

const dkimReason = "DKIM is not checked automatically: the signing key is held by the sending provider. Record shown for reference."

// VerificationResult is the outcome of one Verify call.
type VerificationResult struct {
	Domain    string             `json:"domain"`
	Records   []domain.DNSRecord `json:"records"`
	Verified  bool               `json:"verified"`
	CheckedAt time.Time          `json:"checked_at"`
}

// Record returns the result for kind, if it was checked.
func (r VerificationResult) Record(kind domain.RecordKind) (domain.DNSRecord, bool) {
	for _, rec := range r.Records {
		if rec.Kind == kind {
			return rec, true
		}
	}
	return domain.DNSRecord{}, false
}

// Verifier checks expected records against live DNS.
type Verifier struct {
	resolver Resolver
	timeout  time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// NewVerifier returns a Verifier. A zero timeout uses DefaultLookupTimeout.
func NewVerifier(resolver Resolver, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Verifier{
		resolver: resolver,
		timeout:  timeout,
		now:      time.Now,
		log:      logger.With("component", "trust"),
	}
}

// Verify looks up every expected record concurrently, each under its own
// timeout, and reports per-record results. It never returns an error:
// lookup failures become the Reason of the affected record. The overall
// result is the AND of every non-DKIM record, and false when there are none.
func (v *Verifier) Verify(ctx context.Context, name string, expected []domain.DNSRecord) VerificationResult {
	results := make([]domain.DNSRecord, len(expected))

	var g errgroup.Group
	for i, rec := range expected {
		g.Go(func() error {
			results[i] = v.check(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	overall := false
	for _, rec := range results {
		if rec.Kind == domain.RecordDKIM {
			continue
		}
		if !rec.Verified {
			overall = false
			break
		}
		overall = true
	}

	for _, rec := range results {
		outcome := "unverified"
		if rec.Verified {
			outcome = "verified"
		}
		metrics.DomainVerifications.WithLabelValues(string(rec.Kind), outcome).Inc()
	}
	v.log.Info("domain verification finished", "domain", name, "verified", overall)

	return VerificationResult{
		Domain:    normalizeHost(name),
		Records:   results,
		Verified:  overall,
		CheckedAt: v.now().UTC(),
	}
}

func (v *Verifier) check(ctx context.Context, rec domain.DNSRecord) domain.DNSRecord {
	rec.Observed = nil
	rec.Verified = false
	rec.Reason = ""

	lctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	switch rec.Kind {
	case domain.RecordSPF, domain.RecordDMARC:
		txt, err := v.lookupTXT(lctx, rec.Host)
		if err != nil {
			rec.Reason = reasonFor(err)
			return rec
		}
		rec.Observed = txt
		token := leadingToken(rec.Expected)
		for _, t := range txt {
			if hasToken(t, token) {
				rec.Verified = true
				return rec
			}
		}
		rec.Reason = fmt.Sprintf("found %d TXT record(s) at %s but none contains %s", len(txt), rec.Host, token)

	case domain.RecordCNAME:
		target, err := v.lookupCNAME(lctx, rec.Host)
		if err != nil {
			rec.Reason = reasonFor(err)
			return rec
		}
		rec.Observed = []string{normalizeHost(target)}
		if normalizeHost(target) == normalizeHost(rec.Expected) {
			rec.Verified = true
			return rec
		}
		rec.Reason = fmt.Sprintf("%s points to %s, expected %s", rec.Host, normalizeHost(target), normalizeHost(rec.Expected))

	case domain.RecordDKIM:
		rec.Reason = dkimReason
		if rec.Host == "" {
			return rec
		}
		if txt, err := v.lookupTXT(lctx, rec.Host); err == nil {
			rec.Observed = txt
		} else {
			rec.Reason = dkimReason + " Lookup: " + reasonFor(err)
		}

	default:
		rec.Reason = fmt.Sprintf("unsupported record kind %q", rec.Kind)
	}
	return rec
}

func (v *Verifier) lookupTXT(ctx context.Context, host string) ([]string, error) {
	start := time.Now()
	txt, err := v.resolver.LookupTXT(ctx, host)
	metrics.DNSLookupDuration.WithLabelValues("TXT").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &LookupError{Type: "TXT", Name: host, Err: deadline(ctx, err)}
	}
	return txt, nil
}

func (v *Verifier) lookupCNAME(ctx context.Context, host string) (string, error) {
	start := time.Now()
	target, err := v.resolver.LookupCNAME(ctx, host)
	metrics.DNSLookupDuration.WithLabelValues("CNAME").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", &LookupError{Type: "CNAME", Name: host, Err: deadline(ctx, err)}
	}
	return target, nil
}

// deadline folds a resolver error caused by our own timeout into ErrTimeout.
func deadline(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func reasonFor(err error) string {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Reason()
	}
	return err.Error()
}

// leadingToken returns the version tag a record starts with, e.g. "v=spf1".
func leadingToken(expected string) string {
	fields := strings.FieldsFunc(expected, tokenSep)
	if len(fields) == 0 {
		return expected
	}
	return fields[0]
}

// hasToken reports whether txt contains token as a whole field, ignoring case.
func hasToken(txt, token string) bool {
	for _, f := range strings.FieldsFunc(txt, tokenSep) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}

func tokenSep(r rune) bool {
	return r == ' ' || r == ';' || r == '\t'
}
