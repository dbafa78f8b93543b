package domain

import (
	"errors"
	"time"
)

// RecipientStatus enumerates the delivery lifecycle of one contact within one campaign.
type RecipientStatus string

const (
	RecipientPending      RecipientStatus = "pending"
	RecipientSent         RecipientStatus = "sent"
	RecipientDelivered    RecipientStatus = "delivered"
	RecipientOpened       RecipientStatus = "opened"
	RecipientClicked      RecipientStatus = "clicked"
	RecipientBounced      RecipientStatus = "bounced"
	RecipientUnsubscribed RecipientStatus = "unsubscribed"
)

// ErrUnknownRecipientStatus is returned when a transition names a status
// outside the recipient state machine.
var ErrUnknownRecipientStatus = errors.New("unknown recipient status")

// progression ranks the non-terminal statuses along the happy path.
var progression = map[RecipientStatus]int{
	RecipientPending:   0,
	RecipientSent:      1,
	RecipientDelivered: 2,
	RecipientOpened:    3,
	RecipientClicked:   4,
}

// Valid reports whether s is a known recipient status.
func (s RecipientStatus) Valid() bool {
	if _, ok := progression[s]; ok {
		return true
	}
	return s.IsTerminal()
}

// IsTerminal returns true for bounced and unsubscribed.
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientBounced || s == RecipientUnsubscribed
}

// CampaignRecipient is the single row created for a (campaign, contact) pair
// at fan-out time. Contact details are snapshotted so dispatch does not need
// to read the contact store again.
type CampaignRecipient struct {
	ID             string          `json:"id" db:"id"`
	OrganizationID string          `json:"organization_id" db:"organization_id"`
	CampaignID     string          `json:"campaign_id" db:"campaign_id"`
	ContactID      string          `json:"contact_id" db:"contact_id"`
	Email          string          `json:"email" db:"email"`
	FirstName      string          `json:"first_name" db:"first_name"`
	LastName       string          `json:"last_name" db:"last_name"`
	Status         RecipientStatus `json:"status" db:"status"`
	MessageID      string          `json:"message_id,omitempty" db:"message_id"`
	LastError      string          `json:"last_error,omitempty" db:"last_error"`
	Attempts       int             `json:"attempts" db:"attempts"`

	SentAt         *time.Time `json:"sent_at" db:"sent_at"`
	DeliveredAt    *time.Time `json:"delivered_at" db:"delivered_at"`
	OpenedAt       *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt      *time.Time `json:"clicked_at" db:"clicked_at"`
	BouncedAt      *time.Time `json:"bounced_at" db:"bounced_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`

	// Version is bumped on every write and used for optimistic concurrency.
	Version   int64     `json:"-" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TransitionOutcome describes what Apply did with a requested status.
type TransitionOutcome int

const (
	// TransitionApplied means the status and its timestamp were written.
	TransitionApplied TransitionOutcome = iota
	// TransitionDuplicate means the recipient is already in the requested status.
	TransitionDuplicate
	// TransitionIgnored means the request would regress the recipient or
	// touch a terminal recipient; nothing was written.
	TransitionIgnored
)

func (o TransitionOutcome) String() string {
	switch o {
	case TransitionApplied:
		return "applied"
	case TransitionDuplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// Apply moves the recipient to target if that is a forward move. Applying a
// status already reached, an earlier status, or anything after a terminal
// status leaves the recipient untouched. Forward jumps are allowed (a click
// can arrive before its open) and only the target's timestamp is written;
// a timestamp that is already set is never overwritten.
func (r *CampaignRecipient) Apply(target RecipientStatus, at time.Time) (TransitionOutcome, error) {
	if !target.Valid() {
		return TransitionIgnored, ErrUnknownRecipientStatus
	}
	if r.Status == target {
		return TransitionDuplicate, nil
	}
	if r.Status.IsTerminal() {
		return TransitionIgnored, nil
	}
	if !target.IsTerminal() && progression[target] <= progression[r.Status] {
		return TransitionIgnored, nil
	}

	r.Status = target
	r.stamp(target, at)
	if target == RecipientSent {
		r.LastError = ""
	}
	return TransitionApplied, nil
}

// RecordFailure tags a pending recipient with a send error. It returns false
// when the recipient has already left pending.
func (r *CampaignRecipient) RecordFailure(reason string) bool {
	if r.Status != RecipientPending {
		return false
	}
	r.LastError = reason
	r.Attempts++
	return true
}

// TimestampFor returns the transition timestamp recorded for s.
func (r *CampaignRecipient) TimestampFor(s RecipientStatus) *time.Time {
	switch s {
	case RecipientSent:
		return r.SentAt
	case RecipientDelivered:
		return r.DeliveredAt
	case RecipientOpened:
		return r.OpenedAt
	case RecipientClicked:
		return r.ClickedAt
	case RecipientBounced:
		return r.BouncedAt
	case RecipientUnsubscribed:
		return r.UnsubscribedAt
	}
	return nil
}

func (r *CampaignRecipient) stamp(s RecipientStatus, at time.Time) {
	t := at.UTC()
	set := func(p **time.Time) {
		if *p == nil {
			*p = &t
		}
	}
	switch s {
	case RecipientSent:
		set(&r.SentAt)
	case RecipientDelivered:
		set(&r.DeliveredAt)
	case RecipientOpened:
		set(&r.OpenedAt)
	case RecipientClicked:
		set(&r.ClickedAt)
	case RecipientBounced:
		set(&r.BouncedAt)
	case RecipientUnsubscribed:
		set(&r.UnsubscribedAt)
	}
}
