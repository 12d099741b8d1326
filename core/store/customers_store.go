package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type CustomersStore interface {
	CreateBatch(ctx context.Context, customers []Customer) error
	Get(ctx context.Context, id int64) (*Customer, error)
	GetByPortalToken(ctx context.Context, token string) (*Customer, error)
	List(ctx context.Context, filter CustomerFilter) ([]Customer, error)
	ListByOrganization(ctx context.Context, orgID int64) ([]Customer, error)
	DeleteByOrganization(ctx context.Context, orgID int64) error
	// Approve stamps requirements_approved_at/_by only when not already set.
	// Returns false when the row was already approved (or missing).
	Approve(ctx context.Context, id int64, by string, at time.Time) (bool, error)
	// CompleteForm flips requirements_form_status to completed only from draft.
	CompleteForm(ctx context.Context, id int64, at time.Time) (bool, error)
	SetStatus(ctx context.Context, id int64, status string) error
	SetAutoApprove(ctx context.Context, id int64, enabled bool) error
}

type customersStore struct {
	db *sql.DB
}

func NewCustomersStore(db *sql.DB) CustomersStore {
	return &customersStore{db: db}
}

const customerColumns = `id, prospect_id, organization_id, conversion_batch_id, contract_signed_at, account_manager, notes, status, phase, portal_token, requirements_approved_at, requirements_approved_by, requirements_form_status, requirements_submitted_at, auto_approve_requirements, created_at, updated_at`

func (s *customersStore) CreateBatch(ctx context.Context, customers []Customer) error {
	if len(customers) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	for i := range customers {
		c := &customers[i]
		res, err := tx.ExecContext(ctx, `
			INSERT INTO customers(prospect_id, organization_id, conversion_batch_id, contract_signed_at, account_manager, notes, status, phase, portal_token, requirements_form_status, auto_approve_requirements, created_at, updated_at)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			c.ProspectID, c.OrganizationID, c.ConversionBatchID, c.ContractSignedAt,
			strings.TrimSpace(c.AccountManager), c.Notes, c.Status, c.Phase, c.PortalToken,
			c.RequirementsFormStatus, boolToInt(c.AutoApproveRequirements), now, now)
		if err != nil {
			return err
		}
		c.ID, _ = res.LastInsertId()
		c.CreatedAt = now
		c.UpdatedAt = now
	}
	return tx.Commit()
}

func (s *customersStore) Get(ctx context.Context, id int64) (*Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id=?`, id)
	return scanCustomer(row)
}

func (s *customersStore) GetByPortalToken(ctx context.Context, token string) (*Customer, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE portal_token=?`, token)
	return scanCustomer(row)
}

func (s *customersStore) List(ctx context.Context, filter CustomerFilter) ([]Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers`
	var clauses []string
	var args []any
	if filter.OrganizationID != nil {
		clauses = append(clauses, "organization_id=?")
		args = append(args, *filter.OrganizationID)
	}
	if st := strings.TrimSpace(filter.Status); st != "" {
		clauses = append(clauses, "status=?")
		args = append(args, st)
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
	return collectCustomers(rows)
}

func (s *customersStore) ListByOrganization(ctx context.Context, orgID int64) ([]Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE organization_id=? ORDER BY id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func (s *customersStore) DeleteByOrganization(ctx context.Context, orgID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE organization_id=?`, orgID)
	return err
}

func (s *customersStore) Approve(ctx context.Context, id int64, by string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET requirements_approved_at=?, requirements_approved_by=?, status='requirements_approved', updated_at=?
		WHERE id=? AND requirements_approved_at IS NULL`,
		at.UTC(), strings.TrimSpace(by), time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *customersStore) CompleteForm(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET requirements_form_status='completed', requirements_submitted_at=?, status='requirements_submitted', updated_at=?
		WHERE id=? AND requirements_form_status='draft'`,
		at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *customersStore) SetStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE customers SET status=?, updated_at=? WHERE id=?`,
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

func (s *customersStore) SetAutoApprove(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE customers SET auto_approve_requirements=?, updated_at=? WHERE id=?`,
		boolToInt(enabled), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanCustomer(row interface {
	Scan(dest ...any) error
}) (*Customer, error) {
	var c Customer
	var contractSigned, approvedAt, submittedAt sql.NullTime
	var autoApprove int
	if err := row.Scan(
		&c.ID, &c.ProspectID, &c.OrganizationID, &c.ConversionBatchID, &contractSigned,
		&c.AccountManager, &c.Notes, &c.Status, &c.Phase, &c.PortalToken,
		&approvedAt, &c.RequirementsApprovedBy, &c.RequirementsFormStatus, &submittedAt,
		&autoApprove, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if contractSigned.Valid {
		t := contractSigned.Time
		c.ContractSignedAt = &t
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		c.RequirementsApprovedAt = &t
	}
	if submittedAt.Valid {
		t := submittedAt.Time
		c.RequirementsSubmittedAt = &t
	}
	c.AutoApproveRequirements = autoApprove == 1
	return &c, nil
}

func collectCustomers(rows *sql.Rows) ([]Customer, error) {
	var res []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		if c != nil {
			res = append(res, *c)
		}
	}
	return res, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
