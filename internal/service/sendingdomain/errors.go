package sendingdomain

import "errors"

var (
	ErrNotFound           = errors.New("sending domain not found")
	ErrDuplicate          = errors.New("sending domain already registered")
	ErrDomainInUse        = errors.New("sending domain is referenced by a campaign")
	ErrInvalidDomain      = errors.New("invalid domain name")
	ErrPublishingDisabled = errors.New("record publishing is not configured")
)
