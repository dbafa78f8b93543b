package bridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	HeaderData      = "X-User-Data"
	HeaderSignature = "X-User-Signature"
	HeaderTimestamp = "X-User-Timestamp"

	// DefaultFreshnessWindow bounds clock distance between signer and verifier.
	DefaultFreshnessWindow = 5 * time.Minute
)

// Identity is the claim asserted by the presentation tier.
// Field order fixes the canonical JSON encoding.
type Identity struct {
	UserID         string `json:"userId"`
	Email          string `json:"email"`
	OrganizationID string `json:"organizationId"`
	Timestamp      int64  `json:"timestamp"`
}

// IssuedAt returns the payload timestamp as a time.
func (id Identity) IssuedAt() time.Time {
	return time.UnixMilli(id.Timestamp)
}

// sign computes hex(HMAC-SHA256(secret, payload)).
func sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type identityKey struct{}

// WithIdentity stores a verified identity in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by the middleware, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// OrganizationID returns the caller's organization, or "" when unauthenticated.
func OrganizationID(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.OrganizationID
	}
	return ""
}
