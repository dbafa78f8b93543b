package bridge

import (
	"errors"
	"fmt"

	"github.com/ignite/engagex/internal/config"
)

// ErrMissingSecret is returned by constructors when no shared secret is configured.
var ErrMissingSecret = fmt.Errorf("%w: auth bridge secret is not set", config.ErrConfiguration)

// ErrAuthentication is the parent of every assertion rejection.
var ErrAuthentication = errors.New("authentication failed")

var (
	ErrMissingAssertion  = fmt.Errorf("%w: missing identity headers", ErrAuthentication)
	ErrInvalidSignature  = fmt.Errorf("%w: invalid signature", ErrAuthentication)
	ErrMalformedIdentity = fmt.Errorf("%w: malformed identity payload", ErrAuthentication)
	ErrTimestampMismatch = fmt.Errorf("%w: timestamp header does not match payload", ErrAuthentication)
	ErrStaleAssertion    = fmt.Errorf("%w: assertion outside freshness window", ErrAuthentication)
)

// reason returns a short label for metrics and logs.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingAssertion):
		return "missing"
	case errors.Is(err, ErrInvalidSignature):
		return "signature"
	case errors.Is(err, ErrMalformedIdentity):
		return "malformed"
	case errors.Is(err, ErrTimestampMismatch):
		return "timestamp_mismatch"
	case errors.Is(err, ErrStaleAssertion):
		return "stale"
	}
	return "other"
}
