package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

var _ campaign.Repository = (*CampaignRepo)(nil)

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, organization_id, domain_id, name, subject, from_name, from_email,
	reply_to, html_content, text_content, status, scheduled_at, last_error,
	created_by, contact_group_ids,
	recipients_count, pending_count, failed_count, sent_count, delivered_count,
	opened_count, clicked_count, bounced_count, unsubscribed_count,
	started_at, completed_at, created_at, updated_at`

func scanCampaign(s rowScanner) (*domain.Campaign, error) {
	var (
		c                             domain.Campaign
		domainID                      sql.NullString
		scheduled, started, completed sql.NullTime
	)
	err := s.Scan(
		&c.ID, &c.OrganizationID, &domainID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail,
		&c.ReplyTo, &c.HTMLContent, &c.TextContent, &c.Status, &scheduled, &c.LastError,
		&c.CreatedBy, pq.Array(&c.ContactGroupIDs),
		&c.Stats.Recipients, &c.Stats.Pending, &c.Stats.Failed, &c.Stats.Sent, &c.Stats.Delivered,
		&c.Stats.Opened, &c.Stats.Clicked, &c.Stats.Bounced, &c.Stats.Unsubscribed,
		&started, &completed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.DomainID = stringPtr(domainID)
	c.ScheduledAt = timePtr(scheduled)
	c.StartedAt = timePtr(started)
	c.CompletedAt = timePtr(completed)
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, orgID, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 AND organization_id = $2`,
		id, orgID))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, orgID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ` WHERE organization_id = $1`
	args := []interface{}{orgID}
	idx := 2
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND name ILIKE $%d", idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	out, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return out, total, nil
}

func (r *CampaignRepo) query(ctx context.Context, q string, args ...interface{}) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	groups := c.ContactGroupIDs
	if groups == nil {
		groups = []string{}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, organization_id, domain_id, name, subject, from_name, from_email,
			 reply_to, html_content, text_content, status, scheduled_at, created_by,
			 contact_group_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, c.ID, c.OrganizationID, nullString(c.DomainID), c.Name, c.Subject, c.FromName, c.FromEmail,
		c.ReplyTo, c.HTMLContent, c.TextContent, c.Status, nullTime(c.ScheduledAt), c.CreatedBy,
		pq.Array(groups), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Update(ctx context.Context, orgID, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.FromName != nil {
		add("from_name", *u.FromName)
	}
	if u.FromEmail != nil {
		add("from_email", *u.FromEmail)
	}
	if u.ReplyTo != nil {
		add("reply_to", *u.ReplyTo)
	}
	if u.HTMLContent != nil {
		add("html_content", *u.HTMLContent)
	}
	if u.TextContent != nil {
		add("text_content", *u.TextContent)
	}
	if u.DomainID != nil {
		add("domain_id", nullString(u.DomainID))
	}
	if u.ContactGroupIDs != nil {
		groups := *u.ContactGroupIDs
		if groups == nil {
			groups = []string{}
		}
		add("contact_group_ids", pq.Array(groups))
	}

	if len(sets) == 0 {
		return r.requireDraft(ctx, orgID, id)
	}

	sets = append(sets, "updated_at = NOW()")
	q := fmt.Sprintf("UPDATE campaigns SET %s WHERE id = $%d AND organization_id = $%d AND status = 'draft'",
		joinComma(sets), idx, idx+1)
	args = append(args, id, orgID)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.requireDraft(ctx, orgID, id)
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, orgID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM campaigns
		WHERE id = $1 AND organization_id = $2 AND status = 'draft'
	`, id, orgID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.requireDraft(ctx, orgID, id)
	}
	return nil
}

// requireDraft explains a write that matched no draft row.
func (r *CampaignRepo) requireDraft(ctx context.Context, orgID, id string) error {
	status, err := r.status(ctx, orgID, id)
	if err != nil {
		return err
	}
	if status != domain.CampaignDraft {
		return campaign.ErrNotEditable
	}
	return nil
}

func (r *CampaignRepo) status(ctx context.Context, orgID, id string) (domain.CampaignStatus, error) {
	var s domain.CampaignStatus
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM campaigns WHERE id = $1 AND organization_id = $2`, id, orgID).Scan(&s)
	if err == sql.ErrNoRows {
		return "", campaign.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("campaign status: %w", err)
	}
	return s, nil
}

func (r *CampaignRepo) Transition(ctx context.Context, orgID, id string, ch campaign.StatusChange) error {
	from := make([]string, len(ch.From))
	for i, s := range ch.From {
		from[i] = string(s)
	}
	lastErr := sql.NullString{}
	if ch.LastError != nil {
		lastErr = sql.NullString{String: *ch.LastError, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			status       = $1::text,
			updated_at   = $2,
			started_at   = CASE WHEN $1::text = 'sending' THEN COALESCE(started_at, $2) ELSE started_at END,
			completed_at = CASE WHEN $1::text IN ('sent','failed') THEN $2 ELSE completed_at END,
			scheduled_at = COALESCE($3, scheduled_at),
			last_error   = COALESCE($4, last_error)
		WHERE id = $5 AND organization_id = $6 AND status = ANY($7)
	`, string(ch.To), ch.At.UTC(), nullTime(ch.ScheduledAt), lastErr, id, orgID, pq.Array(from))
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	current, err := r.status(ctx, orgID, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", campaign.ErrInvalidTransition, current, ch.To)
}

func (r *CampaignRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	out, err := r.query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	return out, nil
}

func (r *CampaignRepo) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	out, err := r.query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1
		ORDER BY id
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	return out, nil
}

func (r *CampaignRepo) SaveStats(ctx context.Context, orgID, id string, a domain.Aggregates) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET
			recipients_count = $1, pending_count = $2, failed_count = $3,
			sent_count = $4, delivered_count = $5, opened_count = $6,
			clicked_count = $7, bounced_count = $8, unsubscribed_count = $9
		WHERE id = $10 AND organization_id = $11
	`, a.Recipients, a.Pending, a.Failed, a.Sent, a.Delivered, a.Opened,
		a.Clicked, a.Bounced, a.Unsubscribed, id, orgID)
	if err != nil {
		return fmt.Errorf("save campaign stats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}
