package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/delivery"
)

// ContactRepo implements delivery.ContactSource against PostgreSQL.
type ContactRepo struct{ db *sql.DB }

var _ delivery.ContactSource = (*ContactRepo)(nil)

// NewContactRepo creates a Postgres-backed contact source.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

// ResolveAudience selects subscribed contacts whose groups overlap groupIDs.
// Each contact row is returned once however many of the groups it is in.
func (r *ContactRepo) ResolveAudience(ctx context.Context, orgID string, groupIDs []string) ([]domain.Contact, error) {
	if groupIDs == nil {
		groupIDs = []string{}
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organization_id, email, first_name, last_name, is_subscribed,
		       group_ids, created_at, updated_at
		FROM contacts
		WHERE organization_id = $1
		  AND is_subscribed = TRUE
		  AND (cardinality($2::text[]) = 0 OR group_ids && $2::text[])
		ORDER BY id
	`, orgID, pq.Array(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.Email, &c.FirstName, &c.LastName, &c.IsSubscribed,
			pq.Array(&c.GroupIDs), &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Unsubscribe is a no-op for unknown contacts.
func (r *ContactRepo) Unsubscribe(ctx context.Context, orgID, contactID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET is_subscribed = FALSE, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND is_subscribed = TRUE
	`, contactID, orgID)
	if err != nil {
		return fmt.Errorf("unsubscribe contact: %w", err)
	}
	return nil
}
