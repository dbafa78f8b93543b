package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/delivery"
)

// EventRepo implements delivery.EventStore against PostgreSQL.
type EventRepo struct{ db *sql.DB }

var _ delivery.EventStore = (*EventRepo)(nil)

// NewEventRepo creates a Postgres-backed analytics event log.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Append(ctx context.Context, e *domain.AnalyticsEvent) (bool, error) {
	meta := []byte("{}")
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return false, fmt.Errorf("encode event metadata: %w", err)
		}
		meta = b
	}
	var contactID sql.NullString
	if e.ContactID != "" {
		contactID = sql.NullString{String: e.ContactID, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO analytics_events
			(id, organization_id, campaign_id, recipient_id, contact_id, event_type,
			 message_id, ip_address, user_agent, url, metadata, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.OrganizationID, e.CampaignID, e.RecipientID, contactID, string(e.EventType),
		e.MessageID, e.IPAddress, e.UserAgent, e.URL, meta, e.OccurredAt.UTC())
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *EventRepo) ListByCampaign(ctx context.Context, orgID, campaignID string, f delivery.EventFilter) ([]domain.AnalyticsEvent, error) {
	q := `
		SELECT id, organization_id, campaign_id, recipient_id, COALESCE(contact_id::text, ''),
		       event_type, message_id, ip_address, user_agent, url, metadata, occurred_at, created_at
		FROM analytics_events
		WHERE organization_id = $1 AND campaign_id = $2`
	args := []interface{}{orgID, campaignID}
	idx := 3
	if f.Type != "" {
		q += fmt.Sprintf(" AND event_type = $%d", idx)
		args = append(args, string(f.Type))
		idx++
	}
	q += fmt.Sprintf(" ORDER BY occurred_at DESC, id LIMIT NULLIF($%d, 0) OFFSET $%d", idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.AnalyticsEvent
	for rows.Next() {
		var (
			e    domain.AnalyticsEvent
			meta []byte
		)
		if err := rows.Scan(
			&e.ID, &e.OrganizationID, &e.CampaignID, &e.RecipientID, &e.ContactID,
			&e.EventType, &e.MessageID, &e.IPAddress, &e.UserAgent, &e.URL, &meta,
			&e.OccurredAt, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
