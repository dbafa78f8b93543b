package bridge

import (
	"crypto/hmac"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Verifier validates assertions on the backend side. It holds no state
// beyond the secret, so one instance serves all requests.
type Verifier struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// NewVerifier returns a Verifier. A zero window uses DefaultFreshnessWindow.
func NewVerifier(secret string, window time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Verifier{secret: []byte(secret), window: window, now: time.Now}, nil
}

// VerifyRequest reads the assertion headers from r.
func (v *Verifier) VerifyRequest(r *http.Request) (*Identity, error) {
	return v.Verify(
		r.Header.Get(HeaderData),
		r.Header.Get(HeaderSignature),
		r.Header.Get(HeaderTimestamp),
	)
}

// Verify checks one assertion and returns the asserted identity.
// The signature is checked before the payload is parsed.
func (v *Verifier) Verify(data, signature, timestamp string) (*Identity, error) {
	if data == "" || signature == "" || timestamp == "" {
		return nil, ErrMissingAssertion
	}

	expected := sign(v.secret, []byte(data))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature
	}

	var id Identity
	if err := json.Unmarshal([]byte(data), &id); err != nil {
		return nil, ErrMalformedIdentity
	}
	if id.UserID == "" || id.Email == "" || id.OrganizationID == "" || id.Timestamp <= 0 {
		return nil, ErrMalformedIdentity
	}

	headerTS, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || headerTS != id.Timestamp {
		return nil, ErrTimestampMismatch
	}

	skew := v.now().Sub(id.IssuedAt())
	if skew < 0 {
		skew = -skew
	}
	if skew > v.window {
		return nil, ErrStaleAssertion
	}
	return &id, nil
}
