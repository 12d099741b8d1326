package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type WorkflowStore interface {
	Insert(ctx context.Context, e *WorkflowExecution) (int64, error)
	Get(ctx context.Context, id int64) (*WorkflowExecution, error)
	GetByEngineExecutionID(ctx context.Context, engineID string) (*WorkflowExecution, error)
	LatestByAssessmentType(ctx context.Context, assessmentID int64, workflowType string) (*WorkflowExecution, error)
	LatestRunningByAssessment(ctx context.Context, assessmentID int64) (*WorkflowExecution, error)
	LatestRunningByType(ctx context.Context, workflowType string) (*WorkflowExecution, error)
	ListByAssessment(ctx context.Context, assessmentID int64) ([]WorkflowExecution, error)
	// Restart reuses an existing execution row for a retry: status back to
	// running, retry_count incremented, started_at reset.
	Restart(ctx context.Context, id int64, at time.Time) error
	MarkCompleted(ctx context.Context, id int64, at time.Time, durationSeconds int64, engineID string) error
	MarkFailed(ctx context.Context, id int64, at time.Time, durationSeconds int64, errMessage, errDetails, engineID string) error
	ListStuckRunning(ctx context.Context, olderThan time.Time) ([]WorkflowExecution, error)
}

type workflowStore struct {
	db *sql.DB
}

func NewWorkflowStore(db *sql.DB) WorkflowStore {
	return &workflowStore{db: db}
}

const workflowColumns = `id, assessment_id, workflow_type, status, started_at, completed_at, duration_seconds, retry_count, error_message, error_details, n8n_execution_id`

func (s *workflowStore) Insert(ctx context.Context, e *WorkflowExecution) (int64, error) {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = "running"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions(assessment_id, workflow_type, status, started_at, retry_count, error_message, error_details, n8n_execution_id)
		VALUES(?,?,?,?,?,?,?,?)`,
		e.AssessmentID, strings.TrimSpace(e.WorkflowType), e.Status, e.StartedAt.UTC(),
		e.RetryCount, e.ErrorMessage, e.ErrorDetails, e.N8NExecutionID)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	e.ID = id
	return id, nil
}

func (s *workflowStore) Get(ctx context.Context, id int64) (*WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflow_executions WHERE id=?`, id)
	return scanWorkflowExecution(row)
}

func (s *workflowStore) GetByEngineExecutionID(ctx context.Context, engineID string) (*WorkflowExecution, error) {
	engineID = strings.TrimSpace(engineID)
	if engineID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+` FROM workflow_executions
		WHERE n8n_execution_id=? ORDER BY started_at DESC LIMIT 1`, engineID)
	return scanWorkflowExecution(row)
}

func (s *workflowStore) LatestByAssessmentType(ctx context.Context, assessmentID int64, workflowType string) (*WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+` FROM workflow_executions
		WHERE assessment_id=? AND workflow_type=?
		ORDER BY started_at DESC, id DESC LIMIT 1`, assessmentID, strings.TrimSpace(workflowType))
	return scanWorkflowExecution(row)
}

func (s *workflowStore) LatestRunningByAssessment(ctx context.Context, assessmentID int64) (*WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+` FROM workflow_executions
		WHERE assessment_id=? AND status='running'
		ORDER BY started_at DESC, id DESC LIMIT 1`, assessmentID)
	return scanWorkflowExecution(row)
}

func (s *workflowStore) LatestRunningByType(ctx context.Context, workflowType string) (*WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+` FROM workflow_executions
		WHERE workflow_type=? AND status='running'
		ORDER BY started_at DESC, id DESC LIMIT 1`, strings.TrimSpace(workflowType))
	return scanWorkflowExecution(row)
}

func (s *workflowStore) ListByAssessment(ctx context.Context, assessmentID int64) ([]WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workflowColumns+` FROM workflow_executions
		WHERE assessment_id=? ORDER BY started_at DESC, id DESC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []WorkflowExecution
	for rows.Next() {
		e, err := scanWorkflowExecution(rows)
		if err != nil {
			return nil, err
		}
		if e != nil {
			res = append(res, *e)
		}
	}
	return res, rows.Err()
}

func (s *workflowStore) Restart(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status='running', started_at=?, completed_at=NULL, duration_seconds=NULL,
			retry_count=retry_count+1, error_message='', error_details=''
		WHERE id=?`, at.UTC(), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *workflowStore) MarkCompleted(ctx context.Context, id int64, at time.Time, durationSeconds int64, engineID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status='completed', completed_at=?, duration_seconds=?,
			n8n_execution_id=CASE WHEN ?<>'' THEN ? ELSE n8n_execution_id END
		WHERE id=?`, at.UTC(), durationSeconds, engineID, engineID, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *workflowStore) MarkFailed(ctx context.Context, id int64, at time.Time, durationSeconds int64, errMessage, errDetails, engineID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status='failed', completed_at=?, duration_seconds=?, error_message=?, error_details=?,
			n8n_execution_id=CASE WHEN ?<>'' THEN ? ELSE n8n_execution_id END
		WHERE id=?`, at.UTC(), durationSeconds, errMessage, errDetails, engineID, engineID, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *workflowStore) ListStuckRunning(ctx context.Context, olderThan time.Time) ([]WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workflowColumns+` FROM workflow_executions
		WHERE status='running' AND started_at<?
		ORDER BY started_at`, olderThan.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []WorkflowExecution
	for rows.Next() {
		e, err := scanWorkflowExecution(rows)
		if err != nil {
			return nil, err
		}
		if e != nil {
			res = append(res, *e)
		}
	}
	return res, rows.Err()
}

func scanWorkflowExecution(row interface {
	Scan(dest ...any) error
}) (*WorkflowExecution, error) {
	var e WorkflowExecution
	var completedAt sql.NullTime
	var duration sql.NullInt64
	if err := row.Scan(
		&e.ID, &e.AssessmentID, &e.WorkflowType, &e.Status, &e.StartedAt,
		&completedAt, &duration, &e.RetryCount, &e.ErrorMessage, &e.ErrorDetails, &e.N8NExecutionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if duration.Valid {
		d := duration.Int64
		e.DurationSeconds = &d
	}
	return &e, nil
}
