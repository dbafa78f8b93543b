package sending

import (
	"errors"
	"fmt"
)

// ErrProviderUnavailable means the provider cannot accept any message right
// now (credentials revoked, account paused, endpoint down). Dispatch aborts.
var ErrProviderUnavailable = errors.New("delivery provider unavailable")

// ProviderError is a rejection of one message. Dispatch records it on the
// recipient and continues with the next one.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return "provider rejected message: " + e.Message
	}
	return fmt.Sprintf("provider rejected message: %s: %s", e.Code, e.Message)
}

// Unavailable wraps cause as ErrProviderUnavailable.
func Unavailable(cause error) error {
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, cause)
}

// IsRejection reports whether err rejects a single message only.
func IsRejection(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
