package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type OrganizationsStore interface {
	Create(ctx context.Context, name, domain, orgType string) (int64, error)
	Get(ctx context.Context, id int64) (*Organization, error)
	GetByDomain(ctx context.Context, domain string) (*Organization, error)
	SetOrgType(ctx context.Context, id int64, orgType string) error
	List(ctx context.Context) ([]Organization, error)
}

type organizationsStore struct {
	db *sql.DB
}

func NewOrganizationsStore(db *sql.DB) OrganizationsStore {
	return &organizationsStore{db: db}
}

// NormalizeDomain lowercases a company domain and strips any scheme prefix
// and trailing path so that "https://Acme.io/" and "acme.io" resolve to the
// same organization.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if idx := strings.IndexAny(d, "/?#"); idx >= 0 {
		d = d[:idx]
	}
	return strings.TrimSuffix(d, ".")
}

func (s *organizationsStore) Create(ctx context.Context, name, domain, orgType string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations(name, domain, org_type, created_at, updated_at)
		VALUES(?,?,?,?,?)`,
		strings.TrimSpace(name), NormalizeDomain(domain), strings.TrimSpace(orgType), now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func (s *organizationsStore) Get(ctx context.Context, id int64) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, domain, org_type, created_at, updated_at
		FROM organizations WHERE id=?`, id)
	return scanOrganization(row)
}

func (s *organizationsStore) GetByDomain(ctx context.Context, domain string) (*Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, domain, org_type, created_at, updated_at
		FROM organizations WHERE domain=?`, NormalizeDomain(domain))
	return scanOrganization(row)
}

func (s *organizationsStore) SetOrgType(ctx context.Context, id int64, orgType string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET org_type=?, updated_at=? WHERE id=?`,
		strings.TrimSpace(orgType), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *organizationsStore) List(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, domain, org_type, created_at, updated_at
		FROM organizations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Organization
	for rows.Next() {
		var o Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Domain, &o.OrgType, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func scanOrganization(row interface {
	Scan(dest ...any) error
}) (*Organization, error) {
	var o Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Domain, &o.OrgType, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}
