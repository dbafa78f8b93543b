package campaign

import (
	"errors"
	"fmt"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotEditable       = errors.New("only draft campaigns can be modified")

	// ErrValidation is the parent of every input and sender check failure.
	ErrValidation = errors.New("validation failed")

	ErrNoSenderDomain    = fmt.Errorf("%w: campaign has no sender domain", ErrValidation)
	ErrSenderNotVerified = fmt.Errorf("%w: sender domain is not verified", ErrValidation)
	ErrSenderMismatch    = fmt.Errorf("%w: from address is not on the sender domain", ErrValidation)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
