package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type AssessmentsStore interface {
	Create(ctx context.Context, orgID int64) (int64, error)
	Get(ctx context.Context, id int64) (*Assessment, error)
	LatestByOrganization(ctx context.Context, orgID int64) (*Assessment, error)

	InsertQuestions(ctx context.Context, questions []DiscoveryQuestion) error
	ListQuestions(ctx context.Context, assessmentID int64) ([]DiscoveryQuestion, error)
	CountQuestions(ctx context.Context, assessmentID int64) (int, error)

	UpsertAnswer(ctx context.Context, a *DiscoveryAnswer) error
	ListAnswers(ctx context.Context, assessmentID int64) ([]DiscoveryAnswer, error)

	InsertDocumentRequests(ctx context.Context, requests []DocumentRequest) error
	ListDocumentRequests(ctx context.Context, assessmentID int64) ([]DocumentRequest, error)
	GetDocumentRequestBySlot(ctx context.Context, assessmentID int64, slotKey string) (*DocumentRequest, error)
}

type assessmentsStore struct {
	db *sql.DB
}

func NewAssessmentsStore(db *sql.DB) AssessmentsStore {
	return &assessmentsStore{db: db}
}

func (s *assessmentsStore) Create(ctx context.Context, orgID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO assessments(organization_id, created_at) VALUES(?,?)`,
		orgID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func (s *assessmentsStore) Get(ctx context.Context, id int64) (*Assessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, created_at FROM assessments WHERE id=?`, id)
	return scanAssessment(row)
}

func (s *assessmentsStore) LatestByOrganization(ctx context.Context, orgID int64) (*Assessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, created_at FROM assessments
		WHERE organization_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, orgID)
	return scanAssessment(row)
}

func (s *assessmentsStore) InsertQuestions(ctx context.Context, questions []DiscoveryQuestion) error {
	if len(questions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	for i := range questions {
		q := &questions[i]
		res, err := tx.ExecContext(ctx, `
			INSERT INTO discovery_questions(assessment_id, dimension_key, question_text, display_order, is_required, created_at)
			VALUES(?,?,?,?,?,?)`,
			q.AssessmentID, strings.TrimSpace(q.DimensionKey), q.QuestionText, q.DisplayOrder, boolToInt(q.IsRequired), now)
		if err != nil {
			return err
		}
		q.ID, _ = res.LastInsertId()
	}
	return tx.Commit()
}

func (s *assessmentsStore) ListQuestions(ctx context.Context, assessmentID int64) ([]DiscoveryQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assessment_id, dimension_key, question_text, display_order, is_required, created_at
		FROM discovery_questions WHERE assessment_id=?
		ORDER BY dimension_key, display_order, id`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DiscoveryQuestion
	for rows.Next() {
		var q DiscoveryQuestion
		var required int
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.DimensionKey, &q.QuestionText, &q.DisplayOrder, &required, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.IsRequired = required == 1
		res = append(res, q)
	}
	return res, rows.Err()
}

func (s *assessmentsStore) CountQuestions(ctx context.Context, assessmentID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM discovery_questions WHERE assessment_id=?`, assessmentID).Scan(&count)
	return count, err
}

// UpsertAnswer inserts or replaces the single answer row for a question.
// discovery_question_id is the conflict target.
func (s *assessmentsStore) UpsertAnswer(ctx context.Context, a *DiscoveryAnswer) error {
	now := time.Now().UTC()
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discovery_answers(discovery_question_id, answer_text, answer_json, answered_by, updated_at)
		VALUES(?,?,?,?,?)
		ON CONFLICT(discovery_question_id) DO UPDATE SET
			answer_text=excluded.answer_text,
			answer_json=excluded.answer_json,
			answered_by=excluded.answered_by,
			updated_at=excluded.updated_at`,
		a.DiscoveryQuestionID, a.AnswerText, a.AnswerJSON, strings.TrimSpace(a.AnsweredBy), now)
	return err
}

func (s *assessmentsStore) ListAnswers(ctx context.Context, assessmentID int64) ([]DiscoveryAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.discovery_question_id, a.answer_text, a.answer_json, a.answered_by, a.updated_at
		FROM discovery_answers a
		JOIN discovery_questions q ON q.id=a.discovery_question_id
		WHERE q.assessment_id=?`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DiscoveryAnswer
	for rows.Next() {
		var a DiscoveryAnswer
		var answerJSON sql.NullString
		if err := rows.Scan(&a.ID, &a.DiscoveryQuestionID, &a.AnswerText, &answerJSON, &a.AnsweredBy, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if answerJSON.Valid {
			a.AnswerJSON = &answerJSON.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *assessmentsStore) InsertDocumentRequests(ctx context.Context, requests []DocumentRequest) error {
	if len(requests) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	now := time.Now().UTC()
	for i := range requests {
		r := &requests[i]
		res, err := tx.ExecContext(ctx, `
			INSERT INTO document_requests(assessment_id, dimension_key, slot_key, title, is_required, created_at)
			VALUES(?,?,?,?,?,?)
			ON CONFLICT(assessment_id, slot_key) DO NOTHING`,
			r.AssessmentID, strings.TrimSpace(r.DimensionKey), strings.TrimSpace(r.SlotKey), r.Title, boolToInt(r.IsRequired), now)
		if err != nil {
			return err
		}
		r.ID, _ = res.LastInsertId()
	}
	return tx.Commit()
}

func (s *assessmentsStore) ListDocumentRequests(ctx context.Context, assessmentID int64) ([]DocumentRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, assessment_id, dimension_key, slot_key, title, is_required, created_at
		FROM document_requests WHERE assessment_id=?
		ORDER BY dimension_key, slot_key`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DocumentRequest
	for rows.Next() {
		var r DocumentRequest
		var required int
		if err := rows.Scan(&r.ID, &r.AssessmentID, &r.DimensionKey, &r.SlotKey, &r.Title, &required, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.IsRequired = required == 1
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *assessmentsStore) GetDocumentRequestBySlot(ctx context.Context, assessmentID int64, slotKey string) (*DocumentRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, assessment_id, dimension_key, slot_key, title, is_required, created_at
		FROM document_requests WHERE assessment_id=? AND slot_key=?`,
		assessmentID, strings.TrimSpace(slotKey))
	var r DocumentRequest
	var required int
	if err := row.Scan(&r.ID, &r.AssessmentID, &r.DimensionKey, &r.SlotKey, &r.Title, &required, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.IsRequired = required == 1
	return &r, nil
}

func scanAssessment(row interface {
	Scan(dest ...any) error
}) (*Assessment, error) {
	var a Assessment
	if err := row.Scan(&a.ID, &a.OrganizationID, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
