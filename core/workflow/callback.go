package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"pipewise-ops/core/apperr"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

// CallbackPayload is what the engine posts back when a job reaches a terminal
// state. Generated content rides along on completion because the engine has no
// direct store access.
type CallbackPayload struct {
	AssessmentID        int64               `json:"assessment_id"`
	WorkflowExecutionID int64               `json:"workflow_execution_id,omitempty"`
	WorkflowType        string              `json:"workflow_type,omitempty"`
	Status              string              `json:"status"`
	ErrorMessage        string              `json:"error_message,omitempty"`
	ErrorNode           string              `json:"error_node,omitempty"`
	QuestionsCount      int                 `json:"questions_count,omitempty"`
	DocumentsCount      int                 `json:"documents_count,omitempty"`
	N8NExecutionID      string              `json:"n8n_execution_id,omitempty"`
	Questions           []CallbackQuestion  `json:"questions,omitempty"`
	DocumentRequests    []CallbackDocument  `json:"document_requests,omitempty"`
}

type CallbackQuestion struct {
	DimensionKey string `json:"dimension_key"`
	QuestionText string `json:"question_text"`
	DisplayOrder int    `json:"display_order"`
	IsRequired   bool   `json:"is_required"`
}

type CallbackDocument struct {
	DimensionKey string `json:"dimension_key"`
	SlotKey      string `json:"slot_key"`
	Title        string `json:"title"`
	IsRequired   bool   `json:"is_required"`
}

type CallbackHandler struct {
	execs       store.WorkflowStore
	assessments store.AssessmentsStore
	logger      *utils.Logger
}

func NewCallbackHandler(execs store.WorkflowStore, assessments store.AssessmentsStore, logger *utils.Logger) *CallbackHandler {
	return &CallbackHandler{execs: execs, assessments: assessments, logger: logger}
}

// Consume matches the callback to an execution row and records the terminal
// state. Match priority: explicit execution id, then assessment id, then the
// engine's own execution id, then the most recent running row of the workflow
// type. An unmatched callback is rejected so lost work stays visible.
func (h *CallbackHandler) Consume(ctx context.Context, payload CallbackPayload) (*store.WorkflowExecution, error) {
	status := strings.ToLower(strings.TrimSpace(payload.Status))
	if status != "completed" && status != "failed" {
		return nil, apperr.New("workflow.invalid_callback", "workflow.error.invalidStatus").With("status", payload.Status)
	}

	exec, err := h.resolve(ctx, payload)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, apperr.New(ErrorCodeNotFound, "workflow.error.executionNotFound").
			With("assessment_id", payload.AssessmentID).
			With("workflow_execution_id", payload.WorkflowExecutionID)
	}

	now := time.Now().UTC()
	duration := int64(now.Sub(exec.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	if status == "failed" {
		details := ""
		if payload.ErrorNode != "" {
			raw, _ := json.Marshal(map[string]any{"error_node": payload.ErrorNode})
			details = string(raw)
		}
		if err := h.execs.MarkFailed(ctx, exec.ID, now, duration, payload.ErrorMessage, details, payload.N8NExecutionID); err != nil {
			return nil, err
		}
		return h.execs.Get(ctx, exec.ID)
	}

	if err := h.execs.MarkCompleted(ctx, exec.ID, now, duration, payload.N8NExecutionID); err != nil {
		return nil, err
	}
	if exec.WorkflowType == TypePhase2Requirements {
		if err := h.storeGenerated(ctx, exec.AssessmentID, payload); err != nil {
			// Content insert failure must not un-complete the execution; it
			// is surfaced and retried by re-posting the callback.
			if h.logger != nil {
				h.logger.Errorf("workflow callback content insert assessment=%d: %v", exec.AssessmentID, err)
			}
			return nil, err
		}
	}
	return h.execs.Get(ctx, exec.ID)
}

func (h *CallbackHandler) resolve(ctx context.Context, payload CallbackPayload) (*store.WorkflowExecution, error) {
	if payload.WorkflowExecutionID > 0 {
		exec, err := h.execs.Get(ctx, payload.WorkflowExecutionID)
		if err != nil || exec != nil {
			return exec, err
		}
	}
	if payload.AssessmentID > 0 {
		exec, err := h.execs.LatestRunningByAssessment(ctx, payload.AssessmentID)
		if err != nil || exec != nil {
			return exec, err
		}
	}
	if payload.N8NExecutionID != "" {
		exec, err := h.execs.GetByEngineExecutionID(ctx, payload.N8NExecutionID)
		if err != nil || exec != nil {
			return exec, err
		}
	}
	workflowType := strings.TrimSpace(payload.WorkflowType)
	if workflowType == "" {
		workflowType = TypePhase2Requirements
	}
	return h.execs.LatestRunningByType(ctx, workflowType)
}

func (h *CallbackHandler) storeGenerated(ctx context.Context, assessmentID int64, payload CallbackPayload) error {
	if len(payload.Questions) > 0 {
		questions := make([]store.DiscoveryQuestion, 0, len(payload.Questions))
		for _, q := range payload.Questions {
			questions = append(questions, store.DiscoveryQuestion{
				AssessmentID: assessmentID,
				DimensionKey: q.DimensionKey,
				QuestionText: q.QuestionText,
				DisplayOrder: q.DisplayOrder,
				IsRequired:   q.IsRequired,
			})
		}
		if err := h.assessments.InsertQuestions(ctx, questions); err != nil {
			return err
		}
	}
	if len(payload.DocumentRequests) > 0 {
		requests := make([]store.DocumentRequest, 0, len(payload.DocumentRequests))
		for _, d := range payload.DocumentRequests {
			requests = append(requests, store.DocumentRequest{
				AssessmentID: assessmentID,
				DimensionKey: d.DimensionKey,
				SlotKey:      d.SlotKey,
				Title:        d.Title,
				IsRequired:   d.IsRequired,
			})
		}
		if err := h.assessments.InsertDocumentRequests(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}
