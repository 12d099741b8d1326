package files

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pipewise-ops/config"
	"pipewise-ops/core/apperr"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

const (
	ErrorCodeInvalidRequest = "files.invalid_request"
	ErrorCodeNotFound       = "files.not_found"
	ErrorCodeTooLarge       = "files.too_large"
	ErrorCodeBadSignature   = "files.bad_signature"
	ErrorCodeExpired        = "files.expired"
)

const (
	AuditUpload = "files.upload"
	AuditDelete = "files.delete"
)

type Service struct {
	cfg     config.FilesConfig
	uploads store.UploadsStore
	reqs    store.AssessmentsStore
	audits  store.AuditStore
	logger  *utils.Logger
}

func NewService(cfg config.FilesConfig, uploads store.UploadsStore, reqs store.AssessmentsStore, audits store.AuditStore, logger *utils.Logger) *Service {
	return &Service{cfg: cfg, uploads: uploads, reqs: reqs, audits: audits, logger: logger}
}

type SaveInput struct {
	AssessmentID int64
	SlotKey      string
	FileName     string
	ContentType  string
	UploadedBy   string
}

// Save streams an upload to disk and records it. The blob lands under
// {assessment_id}/{slot_key}/{timestamp}_{name}; the path is unique per file
// so re-uploading the same slot never overwrites an earlier version. When the
// database insert fails the blob is removed again.
func (s *Service) Save(ctx context.Context, in SaveInput, body io.Reader) (*store.DocumentUpload, error) {
	slotKey := strings.TrimSpace(in.SlotKey)
	if slotKey == "" || in.AssessmentID == 0 {
		return nil, apperr.New(ErrorCodeInvalidRequest, "files.error.invalidRequest")
	}
	request, err := s.reqs.GetDocumentRequestBySlot(ctx, in.AssessmentID, slotKey)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, apperr.New(ErrorCodeNotFound, "files.error.unknownSlot").With("slot_key", slotKey)
	}

	name := SanitizeFileName(in.FileName)
	relPath := filepath.Join(
		strconv.FormatInt(in.AssessmentID, 10),
		slotKey,
		fmt.Sprintf("%d_%s", time.Now().UTC().UnixNano(), name),
	)
	absPath := filepath.Join(s.cfg.StorageDir, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}

	maxBytes := s.cfg.MaxUploadMB * 1024 * 1024
	written, err := io.Copy(f, io.LimitReader(body, maxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > maxBytes {
		err = apperr.New(ErrorCodeTooLarge, "files.error.tooLarge").With("max_mb", s.cfg.MaxUploadMB)
	}
	if err != nil {
		_ = os.Remove(absPath)
		return nil, err
	}

	upload := &store.DocumentUpload{
		AssessmentID:      in.AssessmentID,
		DocumentRequestID: &request.ID,
		SlotKey:           slotKey,
		FileName:          name,
		StoragePath:       relPath,
		ContentType:       in.ContentType,
		SizeBytes:         written,
		UploadedBy:        in.UploadedBy,
	}
	id, err := s.uploads.Insert(ctx, upload)
	if err != nil {
		_ = os.Remove(absPath)
		return nil, err
	}
	upload.ID = id
	if s.audits != nil {
		_ = s.audits.Log(ctx, in.UploadedBy, AuditUpload, fmt.Sprintf("upload_id=%d slot=%s bytes=%d", id, slotKey, written))
	}
	return upload, nil
}

// Open returns the stored blob for streaming. Callers must close the reader.
func (s *Service) Open(ctx context.Context, id int64) (*store.DocumentUpload, io.ReadCloser, error) {
	upload, err := s.uploads.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if upload == nil {
		return nil, nil, apperr.New(ErrorCodeNotFound, "files.error.notFound").With("upload_id", id)
	}
	f, err := os.Open(filepath.Join(s.cfg.StorageDir, upload.StoragePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, apperr.New(ErrorCodeNotFound, "files.error.blobMissing").With("upload_id", id)
		}
		return nil, nil, err
	}
	return upload, f, nil
}

func (s *Service) ListByAssessment(ctx context.Context, assessmentID int64) ([]store.DocumentUpload, error) {
	return s.uploads.ListByAssessment(ctx, assessmentID)
}

// Delete removes the row first, then the blob. A leftover blob after a crash
// is harmless; a dangling row pointing at nothing is not.
func (s *Service) Delete(ctx context.Context, id int64, actor string) error {
	upload, err := s.uploads.Get(ctx, id)
	if err != nil {
		return err
	}
	if upload == nil {
		return apperr.New(ErrorCodeNotFound, "files.error.notFound").With("upload_id", id)
	}
	if err := s.uploads.Delete(ctx, id); err != nil {
		return err
	}
	utils.BestEffort(s.logger, "remove upload blob", func() error {
		return os.Remove(filepath.Join(s.cfg.StorageDir, upload.StoragePath))
	})
	if s.audits != nil {
		_ = s.audits.Log(ctx, actor, AuditDelete, fmt.Sprintf("upload_id=%d slot=%s", id, upload.SlotKey))
	}
	return nil
}

// SignDownloadToken mints a time-boxed token for a single upload. Format is
// base64url(id.expiry) + "." + base64url(hmac-sha256); no server-side state.
func (s *Service) SignDownloadToken(uploadID int64, now time.Time) string {
	expiry := now.Add(s.cfg.URLTTL()).Unix()
	payload := fmt.Sprintf("%d.%d", uploadID, expiry)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + base64.RawURLEncoding.EncodeToString(s.sign(payload))
}

// VerifyDownloadToken validates signature and expiry and returns the upload id.
func (s *Service) VerifyDownloadToken(token string, now time.Time) (int64, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return 0, apperr.New(ErrorCodeBadSignature, "files.error.badToken")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return 0, apperr.New(ErrorCodeBadSignature, "files.error.badToken")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return 0, apperr.New(ErrorCodeBadSignature, "files.error.badToken")
	}
	payload := string(payloadBytes)
	if !hmac.Equal(sig, s.sign(payload)) {
		return 0, apperr.New(ErrorCodeBadSignature, "files.error.badSignature")
	}
	idStr, expStr, ok := strings.Cut(payload, ".")
	if !ok {
		return 0, apperr.New(ErrorCodeBadSignature, "files.error.badToken")
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return 0, apperr.New(ErrorCodeBadSignature, "files.error.badToken")
	}
	if now.Unix() > exp {
		return 0, apperr.New(ErrorCodeExpired, "files.error.expired")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, apperr.New(ErrorCodeBadSignature, "files.error.badToken")
	}
	return id, nil
}

func (s *Service) sign(payload string) []byte {
	mac := hmac.New(sha256.New, []byte(s.cfg.SignKey))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// SanitizeFileName strips path components and collapses anything outside a
// safe character set. An empty result falls back to "file".
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "file"
	}
	return out
}
