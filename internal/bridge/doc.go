// Package bridge carries a user's identity from the presentation tier to the
// backend dispatch tier as a stateless, HMAC-signed assertion.
//
// The presentation tier signs an Identity with the shared secret and sends it
// in three headers:
//
//	X-User-Data       canonical JSON {"userId","email","organizationId","timestamp"}
//	X-User-Signature  hex(HMAC-SHA256(secret, X-User-Data))
//	X-User-Timestamp  the payload timestamp, unix milliseconds
//
// The backend recomputes the signature over the exact header bytes, compares
// it in constant time, and only then parses the payload. Assertions whose
// timestamp is more than the freshness window away from the backend clock,
// in either direction, are rejected.
package bridge
