package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/delivery"
)

// fanoutChunk bounds the array size of a single fan-out insert.
const fanoutChunk = 1000

// RecipientRepo implements delivery.RecipientRepository against PostgreSQL.
type RecipientRepo struct{ db *sql.DB }

var _ delivery.RecipientRepository = (*RecipientRepo)(nil)

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

const recipientColumns = `
	id, organization_id, campaign_id, contact_id, email, first_name, last_name,
	status, message_id, last_error, attempts,
	sent_at, delivered_at, opened_at, clicked_at, bounced_at, unsubscribed_at,
	version, created_at, updated_at`

func scanRecipient(s rowScanner) (*domain.CampaignRecipient, error) {
	var (
		r                                         domain.CampaignRecipient
		sent, delivered, opened, clicked, bounced sql.NullTime
		unsubscribed                              sql.NullTime
	)
	if err := s.Scan(
		&r.ID, &r.OrganizationID, &r.CampaignID, &r.ContactID, &r.Email, &r.FirstName, &r.LastName,
		&r.Status, &r.MessageID, &r.LastError, &r.Attempts,
		&sent, &delivered, &opened, &clicked, &bounced, &unsubscribed,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.SentAt = timePtr(sent)
	r.DeliveredAt = timePtr(delivered)
	r.OpenedAt = timePtr(opened)
	r.ClickedAt = timePtr(clicked)
	r.BouncedAt = timePtr(bounced)
	r.UnsubscribedAt = timePtr(unsubscribed)
	return &r, nil
}

// InsertMissing relies on the (campaign_id, contact_id) unique key, so
// concurrent or repeated fan-outs never create a second row for a contact.
func (r *RecipientRepo) InsertMissing(ctx context.Context, orgID, campaignID string, contacts []domain.Contact) (int, error) {
	created := 0
	for start := 0; start < len(contacts); start += fanoutChunk {
		end := start + fanoutChunk
		if end > len(contacts) {
			end = len(contacts)
		}
		chunk := contacts[start:end]
		ids := make([]string, len(chunk))
		emails := make([]string, len(chunk))
		first := make([]string, len(chunk))
		last := make([]string, len(chunk))
		for i, ct := range chunk {
			ids[i], emails[i], first[i], last[i] = ct.ID, ct.Email, ct.FirstName, ct.LastName
		}

		res, err := r.db.ExecContext(ctx, `
			INSERT INTO campaign_recipients
				(id, organization_id, campaign_id, contact_id, email, first_name, last_name,
				 status, version, created_at, updated_at)
			SELECT gen_random_uuid(), $1, $2, t.contact_id::uuid, t.email, t.first_name, t.last_name,
			       'pending', 1, NOW(), NOW()
			FROM unnest($3::text[], $4::text[], $5::text[], $6::text[])
			     AS t(contact_id, email, first_name, last_name)
			ON CONFLICT (campaign_id, contact_id) DO NOTHING
		`, orgID, campaignID, pq.Array(ids), pq.Array(emails), pq.Array(first), pq.Array(last))
		if err != nil {
			return created, fmt.Errorf("insert recipients: %w", err)
		}
		n, _ := res.RowsAffected()
		created += int(n)
	}
	return created, nil
}

func (r *RecipientRepo) ListByCampaign(ctx context.Context, orgID, campaignID string, f delivery.RecipientFilter) ([]domain.CampaignRecipient, error) {
	q := `SELECT ` + recipientColumns + ` FROM campaign_recipients WHERE organization_id = $1 AND campaign_id = $2`
	args := []interface{}{orgID, campaignID}
	idx := 3
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.AfterID != "" {
		q += fmt.Sprintf(" AND id > $%d", idx)
		args = append(args, f.AfterID)
		idx++
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, f.Limit)
		idx++
	}
	if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.CampaignRecipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *RecipientRepo) Get(ctx context.Context, orgID, id string) (*domain.CampaignRecipient, error) {
	rec, err := scanRecipient(r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM campaign_recipients WHERE id = $1 AND organization_id = $2`,
		id, orgID))
	if err == sql.ErrNoRows {
		return nil, delivery.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return rec, nil
}

func (r *RecipientRepo) FindByMessageID(ctx context.Context, messageID string) (*domain.CampaignRecipient, error) {
	if messageID == "" {
		return nil, delivery.ErrRecipientNotFound
	}
	rec, err := scanRecipient(r.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM campaign_recipients WHERE message_id = $1 LIMIT 1`,
		messageID))
	if err == sql.ErrNoRows {
		return nil, delivery.ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient by message id: %w", err)
	}
	return rec, nil
}

func (r *RecipientRepo) Update(ctx context.Context, rec *domain.CampaignRecipient) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET
			status = $1, message_id = $2, last_error = $3, attempts = $4,
			sent_at = $5, delivered_at = $6, opened_at = $7, clicked_at = $8,
			bounced_at = $9, unsubscribed_at = $10,
			version = version + 1, updated_at = NOW()
		WHERE id = $11 AND organization_id = $12 AND version = $13
	`, string(rec.Status), rec.MessageID, rec.LastError, rec.Attempts,
		nullTime(rec.SentAt), nullTime(rec.DeliveredAt), nullTime(rec.OpenedAt), nullTime(rec.ClickedAt),
		nullTime(rec.BouncedAt), nullTime(rec.UnsubscribedAt),
		rec.ID, rec.OrganizationID, rec.Version)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		rec.Version++
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaign_recipients WHERE id = $1 AND organization_id = $2)`,
		rec.ID, rec.OrganizationID).Scan(&exists); err != nil {
		return fmt.Errorf("check recipient: %w", err)
	}
	if !exists {
		return delivery.ErrRecipientNotFound
	}
	return delivery.ErrVersionConflict
}

// Tally mirrors domain.Tally in SQL.
func (r *RecipientRepo) Tally(ctx context.Context, orgID, campaignID string) (domain.Aggregates, error) {
	var a domain.Aggregates
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'pending' AND last_error <> ''),
			COUNT(sent_at),
			COUNT(delivered_at),
			COUNT(opened_at),
			COUNT(clicked_at),
			COUNT(*) FILTER (WHERE status = 'bounced'),
			COUNT(*) FILTER (WHERE status = 'unsubscribed')
		FROM campaign_recipients
		WHERE organization_id = $1 AND campaign_id = $2
	`, orgID, campaignID).Scan(
		&a.Recipients, &a.Pending, &a.Failed, &a.Sent, &a.Delivered,
		&a.Opened, &a.Clicked, &a.Bounced, &a.Unsubscribed,
	)
	if err != nil {
		return domain.Aggregates{}, fmt.Errorf("tally recipients: %w", err)
	}
	return a, nil
}
