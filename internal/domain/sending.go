package domain

import "time"

// EmailMessage is the fully-resolved message ready for a provider sender.
// By the time a message reaches this struct, all template substitution,
// tracking injection, and header generation is complete.
type EmailMessage struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id"`
	RecipientID string            `json:"recipient_id"`
	Email       string            `json:"email"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	ReplyTo     string            `json:"reply_to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"html_content"`
	TextContent string            `json:"text_content"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by a provider sender after the provider accepted a message.
type SendResult struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// DomainStatus enumerates the verification states of a sending domain.
type DomainStatus string

const (
	DomainPending  DomainStatus = "pending"
	DomainVerified DomainStatus = "verified"
	DomainFailed   DomainStatus = "failed"
)

// RecordKind names one of the authentication records checked for a domain.
type RecordKind string

const (
	RecordSPF   RecordKind = "spf"
	RecordDKIM  RecordKind = "dkim"
	RecordDMARC RecordKind = "dmarc"
	RecordCNAME RecordKind = "cname"
)

// DNSRecord is one expected authentication record together with what the
// last verification observed for it.
type DNSRecord struct {
	Kind     RecordKind `json:"kind"`
	Type     string     `json:"type"` // TXT or CNAME
	Host     string     `json:"host"`
	Expected string     `json:"expected"`
	Observed []string   `json:"observed,omitempty"`
	Verified bool       `json:"verified"`
	Reason   string     `json:"reason,omitempty"`
}

// SendingDomain represents a configured sending domain with DNS verification status.
type SendingDomain struct {
	ID             string       `json:"id" db:"id"`
	OrganizationID string       `json:"organization_id" db:"organization_id"`
	Domain         string       `json:"domain" db:"domain"`
	DKIMSelector   string       `json:"dkim_selector" db:"dkim_selector"`
	Status         DomainStatus `json:"status" db:"status"`
	SPF            DNSRecord    `json:"spf" db:"spf_record"`
	DKIM           DNSRecord    `json:"dkim" db:"dkim_record"`
	DMARC          DNSRecord    `json:"dmarc" db:"dmarc_record"`
	CNAME          DNSRecord    `json:"cname" db:"cname_record"`
	LastCheckedAt  *time.Time   `json:"last_checked_at" db:"last_checked_at"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// Records returns the four authentication records in a fixed order.
func (d *SendingDomain) Records() []DNSRecord {
	return []DNSRecord{d.SPF, d.DKIM, d.DMARC, d.CNAME}
}

// SetRecord stores rec in the slot matching its kind.
func (d *SendingDomain) SetRecord(rec DNSRecord) {
	switch rec.Kind {
	case RecordSPF:
		d.SPF = rec
	case RecordDKIM:
		d.DKIM = rec
	case RecordDMARC:
		d.DMARC = rec
	case RecordCNAME:
		d.CNAME = rec
	}
}

// IsVerified reports whether campaigns may use this domain as sender.
func (d *SendingDomain) IsVerified() bool {
	return d.Status == DomainVerified
}
