package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignPaused    CampaignStatus = "paused"
	CampaignFailed    CampaignStatus = "failed"
)

// campaignTransitions lists the forward edges of the campaign state machine.
// Nothing re-enters draft; sent and failed have no outgoing edges.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignSending},
	CampaignScheduled: {CampaignSending, CampaignPaused},
	CampaignSending:   {CampaignSent, CampaignFailed, CampaignPaused},
	CampaignPaused:    {CampaignScheduled},
}

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignSent, CampaignPaused, CampaignFailed:
		return true
	}
	return false
}

// IsTerminal returns true for sent and failed.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignSent || s == CampaignFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Campaign represents an email campaign with its content and delivery config.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	OrganizationID string         `json:"organization_id" db:"organization_id"`
	DomainID       *string        `json:"domain_id" db:"domain_id"`
	Name           string         `json:"name" db:"name"`
	Subject        string         `json:"subject" db:"subject"`
	FromName       string         `json:"from_name" db:"from_name"`
	FromEmail      string         `json:"from_email" db:"from_email"`
	ReplyTo        string         `json:"reply_to" db:"reply_to"`
	HTMLContent    string         `json:"html_content" db:"html_content"`
	TextContent    string         `json:"text_content" db:"text_content"`
	Status         CampaignStatus `json:"status" db:"status"`
	ScheduledAt    *time.Time     `json:"scheduled_at" db:"scheduled_at"`
	LastError      string         `json:"last_error,omitempty" db:"last_error"`
	CreatedBy      string         `json:"created_by" db:"created_by"`

	// ContactGroupIDs selects the audience; empty means every subscribed contact.
	ContactGroupIDs []string `json:"contact_group_ids" db:"contact_group_ids"`

	// Stats are derived from recipient rows, never written incrementally.
	Stats Aggregates `json:"stats"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status.IsTerminal()
}

// Aggregates holds the per-campaign counters. Every field is a count of
// recipient rows; see Tally.
type Aggregates struct {
	Recipients   int `json:"recipients"`
	Pending      int `json:"pending"`
	Failed       int `json:"failed"`
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"`
	Opened       int `json:"opened"`
	Clicked      int `json:"clicked"`
	Bounced      int `json:"bounced"`
	Unsubscribed int `json:"unsubscribed"`
}

// OpenRate returns opened/delivered as a percentage.
func (a Aggregates) OpenRate() float64 {
	if a.Delivered == 0 {
		return 0
	}
	return float64(a.Opened) / float64(a.Delivered) * 100
}

// ClickRate returns clicked/delivered as a percentage.
func (a Aggregates) ClickRate() float64 {
	if a.Delivered == 0 {
		return 0
	}
	return float64(a.Clicked) / float64(a.Delivered) * 100
}

// Tally computes aggregates by scanning recipient rows. A recipient counts
// toward a stage once the timestamp for that stage is set, so a clicked
// recipient also counts as sent, delivered and opened if those were recorded.
// Failed counts pending recipients carrying a send error.
func Tally(recipients []CampaignRecipient) Aggregates {
	var a Aggregates
	for i := range recipients {
		r := &recipients[i]
		a.Recipients++
		if r.Status == RecipientPending {
			a.Pending++
			if r.LastError != "" {
				a.Failed++
			}
		}
		if r.SentAt != nil {
			a.Sent++
		}
		if r.DeliveredAt != nil {
			a.Delivered++
		}
		if r.OpenedAt != nil {
			a.Opened++
		}
		if r.ClickedAt != nil {
			a.Clicked++
		}
		if r.Status == RecipientBounced {
			a.Bounced++
		}
		if r.Status == RecipientUnsubscribed {
			a.Unsubscribed++
		}
	}
	return a
}
