package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/delivery"
)

// ErrOrganizationNotFound is returned by OrganizationRepo.Get.
var ErrOrganizationNotFound = errors.New("organization not found")

// OrganizationRepo implements delivery.OrganizationSource against PostgreSQL.
type OrganizationRepo struct{ db *sql.DB }

var _ delivery.OrganizationSource = (*OrganizationRepo)(nil)

// NewOrganizationRepo creates a Postgres-backed organization source.
func NewOrganizationRepo(db *sql.DB) *OrganizationRepo { return &OrganizationRepo{db: db} }

func (r *OrganizationRepo) Get(ctx context.Context, orgID string) (*domain.Organization, error) {
	o := &domain.Organization{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = $1`, orgID,
	).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return o, nil
}
