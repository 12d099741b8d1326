package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type ProspectsStore interface {
	Create(ctx context.Context, p *Prospect) (int64, error)
	Get(ctx context.Context, id int64) (*Prospect, error)
	GetMany(ctx context.Context, ids []int64) ([]Prospect, error)
	List(ctx context.Context, filter ProspectFilter) ([]Prospect, error)
	ExistsByOrgEmail(ctx context.Context, orgID int64, email string) (bool, error)
	SetStatus(ctx context.Context, id int64, status string) error
	// SetStatusIf updates status only when the current status matches from.
	// Returns false when the guard did not match.
	SetStatusIf(ctx context.Context, id int64, from, to string) (bool, error)
	SetReport(ctx context.Context, id int64, reportHTML, reportHTMLPublic *string, status string) error
	SetQualified(ctx context.Context, id int64, at time.Time) error
	MarkConverted(ctx context.Context, ids []int64) error
	CompletedReportForOrg(ctx context.Context, orgID, excludeID int64) (*Prospect, error)
}

type prospectsStore struct {
	db *sql.DB
}

func NewProspectsStore(db *sql.DB) ProspectsStore {
	return &prospectsStore{db: db}
}

const prospectColumns = `id, organization_id, company_name, company_domain, contact_email, contact_name, status, source, report_html, report_html_public, qualified_at, created_at, updated_at`

func (s *prospectsStore) Create(ctx context.Context, p *Prospect) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO prospects(organization_id, company_name, company_domain, contact_email, contact_name, status, source, report_html, report_html_public, qualified_at, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullableID(p.OrganizationID), strings.TrimSpace(p.CompanyName), NormalizeDomain(p.CompanyDomain),
		strings.ToLower(strings.TrimSpace(p.ContactEmail)), strings.TrimSpace(p.ContactName),
		p.Status, p.Source, p.ReportHTML, p.ReportHTMLPublic, p.QualifiedAt, now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func (s *prospectsStore) Get(ctx context.Context, id int64) (*Prospect, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prospectColumns+` FROM prospects WHERE id=?`, id)
	return scanProspect(row)
}

func (s *prospectsStore) GetMany(ctx context.Context, ids []int64) ([]Prospect, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM prospects WHERE id IN (%s)`, prospectColumns, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProspects(rows)
}

func (s *prospectsStore) List(ctx context.Context, filter ProspectFilter) ([]Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects`
	var clauses []string
	var args []any
	if st := strings.TrimSpace(filter.Status); st != "" {
		clauses = append(clauses, "status=?")
		args = append(args, st)
	}
	if filter.OrganizationID != nil {
		clauses = append(clauses, "organization_id=?")
		args = append(args, *filter.OrganizationID)
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		p := "%" + strings.ToLower(q) + "%"
		clauses = append(clauses, "(LOWER(company_name) LIKE ? OR LOWER(company_domain) LIKE ? OR LOWER(contact_email) LIKE ?)")
		args = append(args, p, p, p)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProspects(rows)
}

func (s *prospectsStore) ExistsByOrgEmail(ctx context.Context, orgID int64, email string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM prospects WHERE organization_id=? AND contact_email=?`,
		orgID, strings.ToLower(strings.TrimSpace(email))).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *prospectsStore) SetStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE prospects SET status=?, updated_at=? WHERE id=?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *prospectsStore) SetStatusIf(ctx context.Context, id int64, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE prospects SET status=?, updated_at=? WHERE id=? AND status=?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *prospectsStore) SetReport(ctx context.Context, id int64, reportHTML, reportHTMLPublic *string, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE prospects SET report_html=?, report_html_public=?, status=?, updated_at=? WHERE id=?`,
		reportHTML, reportHTMLPublic, status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *prospectsStore) SetQualified(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE prospects SET status='qualified', qualified_at=?, updated_at=? WHERE id=?`,
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *prospectsStore) MarkConverted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{time.Now().UTC()}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE prospects SET status='converted_to_customer', updated_at=? WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if int(affected) != len(ids) {
		return fmt.Errorf("marked %d of %d prospects converted", affected, len(ids))
	}
	return nil
}

// CompletedReportForOrg returns another prospect of the same organization that
// already carries a completed report, if any.
func (s *prospectsStore) CompletedReportForOrg(ctx context.Context, orgID, excludeID int64) (*Prospect, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prospectColumns+` FROM prospects
		WHERE organization_id=? AND id<>? AND status='completed' AND report_html IS NOT NULL
		ORDER BY updated_at DESC LIMIT 1`, orgID, excludeID)
	return scanProspect(row)
}

func scanProspect(row interface {
	Scan(dest ...any) error
}) (*Prospect, error) {
	var p Prospect
	var orgID sql.NullInt64
	var reportHTML, reportPublic sql.NullString
	var qualifiedAt sql.NullTime
	if err := row.Scan(
		&p.ID, &orgID, &p.CompanyName, &p.CompanyDomain, &p.ContactEmail, &p.ContactName,
		&p.Status, &p.Source, &reportHTML, &reportPublic, &qualifiedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if orgID.Valid {
		p.OrganizationID = &orgID.Int64
	}
	if reportHTML.Valid {
		p.ReportHTML = &reportHTML.String
	}
	if reportPublic.Valid {
		p.ReportHTMLPublic = &reportPublic.String
	}
	if qualifiedAt.Valid {
		t := qualifiedAt.Time
		p.QualifiedAt = &t
	}
	return &p, nil
}

func collectProspects(rows *sql.Rows) ([]Prospect, error) {
	var res []Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		if p != nil {
			res = append(res, *p)
		}
	}
	return res, rows.Err()
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
