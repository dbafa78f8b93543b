package bridge

import (
	"errors"
	"net/http"
)

// ErrNoIdentity is returned by Transport when the outgoing request carries
// no identity in its context.
var ErrNoIdentity = errors.New("bridge: no identity on request context")

// Transport signs outgoing requests with the identity found in their context.
// The presentation tier wraps its backend client with it.
type Transport struct {
	Signer *Signer
	Base   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	id, ok := FromContext(req.Context())
	if !ok {
		return nil, ErrNoIdentity
	}
	a, err := t.Signer.Sign(*id)
	if err != nil {
		return nil, err
	}

	out := req.Clone(req.Context())
	a.Apply(out.Header)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}
