package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Assertion is the header triple produced by Signer.
type Assertion struct {
	Data      string
	Signature string
	Timestamp string
}

// Apply writes the assertion headers onto h.
func (a Assertion) Apply(h http.Header) {
	h.Set(HeaderData, a.Data)
	h.Set(HeaderSignature, a.Signature)
	h.Set(HeaderTimestamp, a.Timestamp)
}

// Signer produces assertions on the presentation side.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a Signer for secret. An empty secret is a configuration error.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Sign stamps id with the current time and signs its canonical encoding.
// Any timestamp already on id is replaced.
func (s *Signer) Sign(id Identity) (Assertion, error) {
	id.Timestamp = s.now().UnixMilli()
	payload, err := json.Marshal(id)
	if err != nil {
		return Assertion{}, fmt.Errorf("encode identity: %w", err)
	}
	return Assertion{
		Data:      string(payload),
		Signature: sign(s.secret, payload),
		Timestamp: strconv.FormatInt(id.Timestamp, 10),
	}, nil
}
