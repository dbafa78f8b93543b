// Package sending defines the outbound mail transport port used by the
// delivery engine.
//
// A Sender delivers one message to one recipient and reports whether the
// provider accepted it. Implementations classify failures: a *ProviderError
// rejects a single message, while ErrProviderUnavailable means no further
// message in the batch can succeed.
package sending

import (
	"context"

	"github.com/ignite/engagex/internal/domain"
)

// Sender sends a single email through a provider. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	return f(ctx, msg)
}
