package requirements

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pipewise-ops/core/apperr"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

const (
	ErrorCodeNotFound         = "requirements.not_found"
	ErrorCodeNotAvailable     = "requirements.not_available"
	ErrorCodeAlreadySubmitted = "requirements.already_submitted"
	ErrorCodeIncomplete       = "requirements.incomplete"
	ErrorCodeNoQuestions      = "requirements.no_questions"
)

const (
	AuditApprove     = "requirements.approve"
	AuditAutoApprove = "requirements.auto_approve"
	AuditSaveAnswer  = "requirements.save_answer"
	AuditSubmit      = "requirements.submit"
)

type Service struct {
	customers   store.CustomersStore
	assessments store.AssessmentsStore
	audits      store.AuditStore
	logger      *utils.Logger
}

func NewService(customers store.CustomersStore, assessments store.AssessmentsStore, audits store.AuditStore, logger *utils.Logger) *Service {
	return &Service{customers: customers, assessments: assessments, audits: audits, logger: logger}
}

type QuestionWithAnswer struct {
	Question store.DiscoveryQuestion `json:"question"`
	Answer   *store.DiscoveryAnswer  `json:"answer,omitempty"`
}

type Form struct {
	Customer         *store.Customer         `json:"customer"`
	Assessment       *store.Assessment       `json:"assessment"`
	Questions        []QuestionWithAnswer    `json:"questions"`
	DocumentRequests []store.DocumentRequest `json:"document_requests"`
}

// Fetch returns the requirements form for a customer: questions ordered by
// (dimension, display order) merged with at most one answer each, plus the
// document request slots. Gated on approval.
func (s *Service) Fetch(ctx context.Context, customerID int64) (*Form, error) {
	customer, assessment, err := s.approvedCustomerAssessment(ctx, customerID)
	if err != nil {
		return nil, err
	}
	questions, err := s.assessments.ListQuestions(ctx, assessment.ID)
	if err != nil {
		return nil, err
	}
	answers, err := s.assessments.ListAnswers(ctx, assessment.ID)
	if err != nil {
		return nil, err
	}
	byQuestion := make(map[int64]store.DiscoveryAnswer, len(answers))
	for _, a := range answers {
		byQuestion[a.DiscoveryQuestionID] = a
	}
	merged := make([]QuestionWithAnswer, 0, len(questions))
	for _, q := range questions {
		item := QuestionWithAnswer{Question: q}
		if a, ok := byQuestion[q.ID]; ok {
			answer := a
			item.Answer = &answer
		}
		merged = append(merged, item)
	}
	requests, err := s.assessments.ListDocumentRequests(ctx, assessment.ID)
	if err != nil {
		return nil, err
	}
	return &Form{Customer: customer, Assessment: assessment, Questions: merged, DocumentRequests: requests}, nil
}

type SaveAnswerInput struct {
	QuestionID int64
	AnswerText string
	AnswerJSON *string
	AnsweredBy string
}

// SaveAnswer upserts the single answer row for a question. Rejected once the
// form is completed.
func (s *Service) SaveAnswer(ctx context.Context, customerID int64, in SaveAnswerInput) (*store.DiscoveryAnswer, error) {
	customer, assessment, err := s.approvedCustomerAssessment(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if FormStatus(customer.RequirementsFormStatus) == FormCompleted {
		return nil, apperr.New(ErrorCodeAlreadySubmitted, "requirements.error.alreadySubmitted").With("customer_id", customer.ID)
	}
	questions, err := s.assessments.ListQuestions(ctx, assessment.ID)
	if err != nil {
		return nil, err
	}
	var question *store.DiscoveryQuestion
	for i := range questions {
		if questions[i].ID == in.QuestionID {
			question = &questions[i]
			break
		}
	}
	if question == nil {
		return nil, apperr.New(ErrorCodeNotFound, "requirements.error.questionNotFound").With("question_id", in.QuestionID)
	}
	answeredBy := strings.TrimSpace(in.AnsweredBy)
	if answeredBy == "" {
		answeredBy = "customer"
	}
	answer := &store.DiscoveryAnswer{
		DiscoveryQuestionID: question.ID,
		AnswerText:          in.AnswerText,
		AnswerJSON:          in.AnswerJSON,
		AnsweredBy:          answeredBy,
	}
	if err := s.assessments.UpsertAnswer(ctx, answer); err != nil {
		return nil, err
	}
	if s.audits != nil {
		_ = s.audits.Log(ctx, answeredBy, AuditSaveAnswer, fmt.Sprintf("customer_id=%d question_id=%d", customer.ID, question.ID))
	}
	return answer, nil
}

type SubmitResult struct {
	Customer    *store.Customer `json:"customer"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Submit completes the form once every required question has an answer.
// The unanswered set is the difference between required question ids and
// answered question ids; any remainder rejects the submission with a count.
func (s *Service) Submit(ctx context.Context, customerID int64, actor string) (*SubmitResult, error) {
	customer, assessment, err := s.approvedCustomerAssessment(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if FormStatus(customer.RequirementsFormStatus) == FormCompleted {
		return nil, apperr.New(ErrorCodeAlreadySubmitted, "requirements.error.alreadySubmitted").With("customer_id", customer.ID)
	}
	questions, err := s.assessments.ListQuestions(ctx, assessment.ID)
	if err != nil {
		return nil, err
	}
	answers, err := s.assessments.ListAnswers(ctx, assessment.ID)
	if err != nil {
		return nil, err
	}
	answered := make(map[int64]struct{}, len(answers))
	for _, a := range answers {
		answered[a.DiscoveryQuestionID] = struct{}{}
	}
	var outstanding []int64
	for _, q := range questions {
		if !q.IsRequired {
			continue
		}
		if _, ok := answered[q.ID]; !ok {
			outstanding = append(outstanding, q.ID)
		}
	}
	if len(outstanding) > 0 {
		return nil, apperr.New(ErrorCodeIncomplete, "requirements.error.incomplete").
			With("outstanding_count", len(outstanding)).
			With("question_ids", outstanding)
	}

	now := time.Now().UTC()
	ok, err := s.customers.CompleteForm(ctx, customer.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with a concurrent submit; treat as already submitted.
		return nil, apperr.New(ErrorCodeAlreadySubmitted, "requirements.error.alreadySubmitted").With("customer_id", customer.ID)
	}
	if s.audits != nil {
		_ = s.audits.Log(ctx, actor, AuditSubmit, fmt.Sprintf("customer_id=%d", customer.ID))
	}
	customer, err = s.customers.Get(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Customer: customer, SubmittedAt: now}, nil
}

type ApproveResult struct {
	Customer   *store.Customer `json:"customer"`
	ApprovedAt time.Time       `json:"approved_at"`
	// AlreadyApproved reports the idempotent no-op: the original approval
	// timestamp is returned unchanged.
	AlreadyApproved bool `json:"already_approved,omitempty"`
}

// Approve gates the requirements form open. Idempotent: re-approving returns
// the original timestamp without a second write. Approval requires the latest
// assessment to carry at least one discovery question, so a form cannot open
// before generation finished.
func (s *Service) Approve(ctx context.Context, customerID int64, approvedBy string) (*ApproveResult, error) {
	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, apperr.New(ErrorCodeNotFound, "requirements.error.customerNotFound").With("customer_id", customerID)
	}
	if customer.RequirementsApprovedAt != nil {
		return &ApproveResult{Customer: customer, ApprovedAt: *customer.RequirementsApprovedAt, AlreadyApproved: true}, nil
	}
	assessment, err := s.assessments.LatestByOrganization(ctx, customer.OrganizationID)
	if err != nil {
		return nil, err
	}
	if assessment == nil {
		return nil, apperr.New(ErrorCodeNotFound, "requirements.error.assessmentNotFound").With("organization_id", customer.OrganizationID)
	}
	count, err := s.assessments.CountQuestions(ctx, assessment.ID)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, apperr.New(ErrorCodeNoQuestions, "requirements.error.noQuestions").With("assessment_id", assessment.ID)
	}

	now := time.Now().UTC()
	ok, err := s.customers.Approve(ctx, customer.ID, approvedBy, now)
	if err != nil {
		return nil, err
	}
	customer, err = s.customers.Get(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent approval won; its timestamp stands.
		if customer.RequirementsApprovedAt != nil {
			return &ApproveResult{Customer: customer, ApprovedAt: *customer.RequirementsApprovedAt, AlreadyApproved: true}, nil
		}
		return nil, apperr.New(ErrorCodeNotFound, "requirements.error.customerNotFound").With("customer_id", customerID)
	}
	if s.audits != nil {
		_ = s.audits.Log(ctx, approvedBy, AuditApprove, fmt.Sprintf("customer_id=%d", customer.ID))
	}
	return &ApproveResult{Customer: customer, ApprovedAt: now}, nil
}

// AutoApproveForAssessment opportunistically approves customers of the
// assessment's organization that opted into auto-approval and are not yet
// approved. Best-effort by contract: a failure is logged, never surfaced.
func (s *Service) AutoApproveForAssessment(ctx context.Context, assessmentID int64) {
	utils.BestEffort(s.logger, "requirements auto-approve", func() error {
		assessment, err := s.assessments.Get(ctx, assessmentID)
		if err != nil {
			return err
		}
		if assessment == nil {
			return nil
		}
		customers, err := s.customers.ListByOrganization(ctx, assessment.OrganizationID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, c := range customers {
			if !c.AutoApproveRequirements || c.RequirementsApprovedAt != nil {
				continue
			}
			// Conditional update: a manual approval that raced ahead wins.
			ok, err := s.customers.Approve(ctx, c.ID, "auto", now)
			if err != nil {
				return err
			}
			if ok && s.audits != nil {
				_ = s.audits.Log(ctx, "workflow-engine", AuditAutoApprove, fmt.Sprintf("customer_id=%d", c.ID))
			}
		}
		return nil
	})
}

func (s *Service) approvedCustomerAssessment(ctx context.Context, customerID int64) (*store.Customer, *store.Assessment, error) {
	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	if customer == nil {
		return nil, nil, apperr.New(ErrorCodeNotFound, "requirements.error.customerNotFound").With("customer_id", customerID)
	}
	if customer.RequirementsApprovedAt == nil {
		return nil, nil, apperr.New(ErrorCodeNotAvailable, "requirements.error.notApproved").With("customer_id", customerID)
	}
	assessment, err := s.assessments.LatestByOrganization(ctx, customer.OrganizationID)
	if err != nil {
		return nil, nil, err
	}
	if assessment == nil {
		return nil, nil, apperr.New(ErrorCodeNotFound, "requirements.error.assessmentNotFound").With("organization_id", customer.OrganizationID)
	}
	return customer, assessment, nil
}
