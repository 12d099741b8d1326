package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type UploadsStore interface {
	Insert(ctx context.Context, u *DocumentUpload) (int64, error)
	Get(ctx context.Context, id int64) (*DocumentUpload, error)
	Delete(ctx context.Context, id int64) error
	ListByAssessment(ctx context.Context, assessmentID int64) ([]DocumentUpload, error)
}

type uploadsStore struct {
	db *sql.DB
}

func NewUploadsStore(db *sql.DB) UploadsStore {
	return &uploadsStore{db: db}
}

const uploadColumns = `id, assessment_id, document_request_id, slot_key, file_name, storage_path, content_type, size_bytes, uploaded_by, created_at`

func (s *uploadsStore) Insert(ctx context.Context, u *DocumentUpload) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO document_uploads(assessment_id, document_request_id, slot_key, file_name, storage_path, content_type, size_bytes, uploaded_by, created_at)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		u.AssessmentID, nullableID(u.DocumentRequestID), strings.TrimSpace(u.SlotKey),
		u.FileName, u.StoragePath, u.ContentType, u.SizeBytes, strings.TrimSpace(u.UploadedBy), now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.CreatedAt = now
	return id, nil
}

func (s *uploadsStore) Get(ctx context.Context, id int64) (*DocumentUpload, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM document_uploads WHERE id=?`, id)
	var u DocumentUpload
	var reqID sql.NullInt64
	if err := row.Scan(&u.ID, &u.AssessmentID, &reqID, &u.SlotKey, &u.FileName, &u.StoragePath, &u.ContentType, &u.SizeBytes, &u.UploadedBy, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if reqID.Valid {
		u.DocumentRequestID = &reqID.Int64
	}
	return &u, nil
}

func (s *uploadsStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_uploads WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *uploadsStore) ListByAssessment(ctx context.Context, assessmentID int64) ([]DocumentUpload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+uploadColumns+` FROM document_uploads WHERE assessment_id=? ORDER BY slot_key, id`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DocumentUpload
	for rows.Next() {
		var u DocumentUpload
		var reqID sql.NullInt64
		if err := rows.Scan(&u.ID, &u.AssessmentID, &reqID, &u.SlotKey, &u.FileName, &u.StoragePath, &u.ContentType, &u.SizeBytes, &u.UploadedBy, &u.CreatedAt); err != nil {
			return nil, err
		}
		if reqID.Valid {
			u.DocumentRequestID = &reqID.Int64
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
