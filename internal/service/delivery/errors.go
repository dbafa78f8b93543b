package delivery

import (
	"errors"
	"fmt"

	"github.com/ignite/engagex/internal/service/campaign"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrVersionConflict   = errors.New("recipient was modified concurrently")

	ErrUnknownEvent    = fmt.Errorf("%w: unknown event type", campaign.ErrValidation)
	ErrInvalidTemplate = fmt.Errorf("%w: campaign content does not parse", campaign.ErrValidation)
)
