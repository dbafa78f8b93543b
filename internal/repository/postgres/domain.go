package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/engagex/internal/domain"
	"github.com/ignite/engagex/internal/service/sendingdomain"
)

// DomainRepo implements sendingdomain.Repository against PostgreSQL.
// The four authentication records are stored as JSONB documents.
type DomainRepo struct{ db *sql.DB }

var _ sendingdomain.Repository = (*DomainRepo)(nil)

// NewDomainRepo creates a Postgres-backed sending domain repository.
func NewDomainRepo(db *sql.DB) *DomainRepo { return &DomainRepo{db: db} }

const domainColumns = `
	id, organization_id, domain, dkim_selector, status,
	spf_record, dkim_record, dmarc_record, cname_record,
	last_checked_at, created_at, updated_at`

func scanDomain(s rowScanner) (*domain.SendingDomain, error) {
	var (
		d                       domain.SendingDomain
		spf, dkim, dmarc, cname []byte
		checked                 sql.NullTime
	)
	if err := s.Scan(
		&d.ID, &d.OrganizationID, &d.Domain, &d.DKIMSelector, &d.Status,
		&spf, &dkim, &dmarc, &cname,
		&checked, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	for _, rec := range []struct {
		raw []byte
		dst *domain.DNSRecord
	}{{spf, &d.SPF}, {dkim, &d.DKIM}, {dmarc, &d.DMARC}, {cname, &d.CNAME}} {
		if len(rec.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(rec.raw, rec.dst); err != nil {
			return nil, fmt.Errorf("decode dns record: %w", err)
		}
	}
	d.LastCheckedAt = timePtr(checked)
	return &d, nil
}

func encodeRecords(d *domain.SendingDomain) ([4][]byte, error) {
	var out [4][]byte
	for i, rec := range d.Records() {
		b, err := json.Marshal(rec)
		if err != nil {
			return out, fmt.Errorf("encode dns record: %w", err)
		}
		out[i] = b
	}
	return out, nil
}

func (r *DomainRepo) Get(ctx context.Context, orgID, id string) (*domain.SendingDomain, error) {
	d, err := scanDomain(r.db.QueryRowContext(ctx,
		`SELECT `+domainColumns+` FROM sending_domains WHERE id = $1 AND organization_id = $2`,
		id, orgID))
	if err == sql.ErrNoRows {
		return nil, sendingdomain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sending domain: %w", err)
	}
	return d, nil
}

func (r *DomainRepo) List(ctx context.Context, orgID string) ([]domain.SendingDomain, error) {
	out, err := r.query(ctx,
		`SELECT `+domainColumns+` FROM sending_domains WHERE organization_id = $1 ORDER BY domain`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list sending domains: %w", err)
	}
	return out, nil
}

func (r *DomainRepo) ListByStatus(ctx context.Context, status domain.DomainStatus, limit int) ([]domain.SendingDomain, error) {
	out, err := r.query(ctx,
		`SELECT `+domainColumns+` FROM sending_domains WHERE status = $1 ORDER BY id LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list sending domains by status: %w", err)
	}
	return out, nil
}

func (r *DomainRepo) query(ctx context.Context, q string, args ...interface{}) ([]domain.SendingDomain, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SendingDomain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DomainRepo) Create(ctx context.Context, d *domain.SendingDomain) error {
	recs, err := encodeRecords(d)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sending_domains
			(id, organization_id, domain, dkim_selector, status,
			 spf_record, dkim_record, dmarc_record, cname_record,
			 last_checked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, d.ID, d.OrganizationID, d.Domain, d.DKIMSelector, d.Status,
		recs[0], recs[1], recs[2], recs[3],
		nullTime(d.LastCheckedAt), d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	if isCode(err, codeUniqueViolation) {
		return sendingdomain.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create sending domain: %w", err)
	}
	return nil
}

func (r *DomainRepo) Save(ctx context.Context, d *domain.SendingDomain) error {
	recs, err := encodeRecords(d)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sending_domains SET
			status = $1, dkim_selector = $2,
			spf_record = $3, dkim_record = $4, dmarc_record = $5, cname_record = $6,
			last_checked_at = $7, updated_at = NOW()
		WHERE id = $8 AND organization_id = $9
	`, d.Status, d.DKIMSelector, recs[0], recs[1], recs[2], recs[3],
		nullTime(d.LastCheckedAt), d.ID, d.OrganizationID)
	if err != nil {
		return fmt.Errorf("save sending domain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sendingdomain.ErrNotFound
	}
	return nil
}

func (r *DomainRepo) Delete(ctx context.Context, orgID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sending_domains WHERE id = $1 AND organization_id = $2`, id, orgID)
	if isCode(err, codeForeignKeyViolation) {
		return sendingdomain.ErrDomainInUse
	}
	if err != nil {
		return fmt.Errorf("delete sending domain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sendingdomain.ErrNotFound
	}
	return nil
}
